package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/FranksOps/trawl/internal/store"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements store.Store
var _ store.Store = (*sqliteBackend)(nil)

// sqliteBackend serves embedded single-process runs and tests. It has no
// row-level locking; the single-writer pipeline is what keeps it safe.
type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS crawled_urls (
	url TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS pending_urls (
	url TEXT PRIMARY KEY,
	depth INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS webpages (
	url TEXT PRIMARY KEY,
	title TEXT,
	summary TEXT,
	content_hash TEXT,
	domain TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS tags (
	url TEXT,
	tag TEXT,
	PRIMARY KEY (url, tag)
);
CREATE TABLE IF NOT EXISTS images (
	url TEXT,
	image_url TEXT,
	PRIMARY KEY (url, image_url)
);
CREATE TABLE IF NOT EXISTS language (
	url TEXT PRIMARY KEY,
	language TEXT
);
CREATE TABLE IF NOT EXISTS blocked_domains (
	domain TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS blacklisted_domains (
	domain TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS crawl_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	status TEXT DEFAULT 'pending',
	last_crawled DATETIME
);
CREATE INDEX IF NOT EXISTS idx_webpages_timestamp ON webpages(timestamp);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_status ON crawl_queue(status);
`

// New creates a SQLite-backed store.Store.
func New(dsn string) (store.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// table-lock errors between the writer and readers.
	db.SetMaxOpenConns(1)
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: create tables: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, `PRAGMA table_info(pending_urls)`)
	if err != nil {
		return fmt.Errorf("sqlite: probe depth column: %w", err)
	}
	defer rows.Close()

	present := false
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("sqlite: probe depth column: %w", err)
		}
		if name == "depth" {
			present = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: probe depth column: %w", err)
	}
	if !present {
		if _, err := b.db.ExecContext(ctx, `ALTER TABLE pending_urls ADD COLUMN depth INTEGER DEFAULT 0`); err != nil {
			return fmt.Errorf("sqlite: add depth column: %w", err)
		}
		if _, err := b.db.ExecContext(ctx, `UPDATE pending_urls SET depth = 0 WHERE depth IS NULL`); err != nil {
			return fmt.Errorf("sqlite: backfill depth column: %w", err)
		}
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

func (b *sqliteBackend) RecordVisited(ctx context.Context, url string) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO crawled_urls(url) VALUES (?)`, url)
	if err != nil {
		return fmt.Errorf("sqlite: record visited: %w", err)
	}
	return nil
}

func (b *sqliteBackend) VisitedURLs(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT url FROM crawled_urls`)
}

func (b *sqliteBackend) RemoveVisited(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query, args := inClause(`DELETE FROM crawled_urls WHERE url IN `, urls)
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: remove visited: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) EnqueuePending(ctx context.Context, url string, depth int) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO pending_urls(url, depth) VALUES (?, ?)`, url, depth)
	if err != nil {
		return fmt.Errorf("sqlite: enqueue pending: %w", err)
	}
	return nil
}

func (b *sqliteBackend) DequeuePending(ctx context.Context, url string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM pending_urls WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("sqlite: dequeue pending: %w", err)
	}
	return nil
}

func (b *sqliteBackend) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_urls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: pending count: %w", err)
	}
	return n, nil
}

func (b *sqliteBackend) PopPendingBatch(ctx context.Context, n int) ([]store.Pending, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pop batch: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT url, depth FROM pending_urls LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pop batch: %w", err)
	}
	var batch []store.Pending
	for rows.Next() {
		var p store.Pending
		if err := rows.Scan(&p.URL, &p.Depth); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: pop batch: %w", err)
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: pop batch: %w", err)
	}
	rows.Close()

	if len(batch) == 0 {
		return nil, store.ErrNoPending
	}

	urls := make([]string, len(batch))
	for i, p := range batch {
		urls[i] = p.URL
	}
	query, args := inClause(`DELETE FROM pending_urls WHERE url IN `, urls)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: pop batch delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: pop batch commit: %w", err)
	}
	return batch, nil
}

func (b *sqliteBackend) SavePage(ctx context.Context, page store.Page) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save page: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webpages (url, title, summary, content_hash, domain, timestamp)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (url) DO UPDATE SET
			title        = CASE WHEN excluded.title <> ''        THEN excluded.title        ELSE webpages.title        END,
			summary      = CASE WHEN excluded.summary <> ''      THEN excluded.summary      ELSE webpages.summary      END,
			content_hash = CASE WHEN excluded.content_hash <> '' THEN excluded.content_hash ELSE webpages.content_hash END,
			domain       = CASE WHEN excluded.domain <> ''       THEN excluded.domain       ELSE webpages.domain       END,
			timestamp    = CURRENT_TIMESTAMP`,
		page.URL, page.Title, page.Summary, page.ContentHash, page.Domain)
	if err != nil {
		return fmt.Errorf("sqlite: save page: %w", err)
	}

	for _, tag := range page.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (url, tag) VALUES (?, ?)`, page.URL, tag); err != nil {
			return fmt.Errorf("sqlite: save tag: %w", err)
		}
	}
	for _, image := range page.Images {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO images (url, image_url) VALUES (?, ?)`, page.URL, image); err != nil {
			return fmt.Errorf("sqlite: save image: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save page commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) PageHashes(ctx context.Context) ([]store.PageHash, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT url, content_hash FROM webpages
		WHERE content_hash IS NOT NULL AND content_hash <> ''`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: page hashes: %w", err)
	}
	defer rows.Close()

	var hashes []store.PageHash
	for rows.Next() {
		var h store.PageHash
		if err := rows.Scan(&h.URL, &h.ContentHash); err != nil {
			return nil, fmt.Errorf("sqlite: page hashes: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: page hashes: %w", err)
	}
	return hashes, nil
}

func (b *sqliteBackend) RecordLanguage(ctx context.Context, url, language string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO language (url, language) VALUES (?, ?)
		ON CONFLICT (url) DO UPDATE SET language = excluded.language`, url, language)
	if err != nil {
		return fmt.Errorf("sqlite: record language: %w", err)
	}
	return nil
}

func (b *sqliteBackend) DeletePagesWhere(ctx context.Context, match func(domain string) bool) (int64, error) {
	domains, err := b.selectStrings(ctx, `SELECT DISTINCT domain FROM webpages WHERE domain IS NOT NULL AND domain <> ''`)
	if err != nil {
		return 0, err
	}
	var hit []string
	for _, d := range domains {
		if match(d) {
			hit = append(hit, d)
		}
	}
	if len(hit) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete pages: %w", err)
	}
	defer tx.Rollback()

	for _, prefix := range []string{
		`DELETE FROM tags WHERE url IN (SELECT url FROM webpages WHERE domain IN `,
		`DELETE FROM images WHERE url IN (SELECT url FROM webpages WHERE domain IN `,
		`DELETE FROM language WHERE url IN (SELECT url FROM webpages WHERE domain IN `,
	} {
		query, args := inClause(prefix, hit)
		if _, err := tx.ExecContext(ctx, query+`)`, args...); err != nil {
			return 0, fmt.Errorf("sqlite: delete pages: %w", err)
		}
	}
	query, args := inClause(`DELETE FROM webpages WHERE domain IN `, hit)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete pages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: delete pages commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) DeletePendingWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM pending_urls`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}
	query, args := inClause(`DELETE FROM pending_urls WHERE url IN `, hit)
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) BlockedDomains(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT domain FROM blocked_domains`)
}

func (b *sqliteBackend) AddBlockedDomain(ctx context.Context, domain string) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO blocked_domains(domain) VALUES (?)`, domain)
	if err != nil {
		return fmt.Errorf("sqlite: add blocked domain: %w", err)
	}
	return nil
}

func (b *sqliteBackend) BlacklistedDomains(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT domain FROM blacklisted_domains`)
}

func (b *sqliteBackend) AddBlacklistedDomain(ctx context.Context, pattern string) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO blacklisted_domains(domain) VALUES (?)`, pattern)
	if err != nil {
		return fmt.Errorf("sqlite: add blacklisted domain: %w", err)
	}
	return nil
}

func (b *sqliteBackend) RemoveBlacklistedDomain(ctx context.Context, pattern string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM blacklisted_domains WHERE domain = ?`, pattern)
	if err != nil {
		return fmt.Errorf("sqlite: remove blacklisted domain: %w", err)
	}
	return nil
}

func (b *sqliteBackend) QueueCounts(ctx context.Context) (store.QueueCounts, error) {
	var counts store.QueueCounts
	err := b.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END)
		FROM crawl_queue`).Scan(
		&nullInt{&counts.Pending}, &nullInt{&counts.Processing}, &nullInt{&counts.Completed})
	if err != nil {
		return counts, fmt.Errorf("sqlite: queue counts: %w", err)
	}
	return counts, nil
}

func (b *sqliteBackend) EnqueueQueueURL(ctx context.Context, url string) error {
	_, err := b.db.ExecContext(ctx, `INSERT OR IGNORE INTO crawl_queue (url) VALUES (?)`, url)
	if err != nil {
		return fmt.Errorf("sqlite: enqueue queue url: %w", err)
	}
	return nil
}

func (b *sqliteBackend) LeaseHostBatch(ctx context.Context, limit int, skip func(host string) bool) ([]string, string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: lease batch: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT url FROM crawl_queue WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: lease batch: %w", err)
	}
	var candidates []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return nil, "", fmt.Errorf("sqlite: lease batch: %w", err)
		}
		candidates = append(candidates, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, "", fmt.Errorf("sqlite: lease batch: %w", err)
	}
	rows.Close()

	urls, host := store.PickHostBatch(candidates, limit, skip)
	if host == "" {
		return nil, "", store.ErrNoPending
	}

	query, args := inClause(`UPDATE crawl_queue SET status = 'processing' WHERE url IN `, urls)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, "", fmt.Errorf("sqlite: lease batch update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("sqlite: lease batch commit: %w", err)
	}
	return urls, host, nil
}

func (b *sqliteBackend) CompleteQueueURL(ctx context.Context, url string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE crawl_queue SET status = 'completed', last_crawled = CURRENT_TIMESTAMP
		WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("sqlite: complete url: %w", err)
	}
	return nil
}

func (b *sqliteBackend) CompleteHost(ctx context.Context, host string) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, func(h string) bool { return h == host })
	if len(hit) == 0 {
		return 0, nil
	}
	query, args := inClause(`UPDATE crawl_queue SET status = 'completed', last_crawled = CURRENT_TIMESTAMP WHERE url IN `, hit)
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: complete host: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) ResetQueue(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: reset queue: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE crawl_queue SET status = 'pending' WHERE status = 'processing'`); err != nil {
		return fmt.Errorf("sqlite: reset queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_queue WHERE status = 'completed'`); err != nil {
		return fmt.Errorf("sqlite: reset queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: reset queue commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) BlacklistQueueWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: blacklist queue: %w", err)
	}
	defer tx.Rollback()

	query, args := inClause(`UPDATE crawl_queue SET status = 'blacklisted' WHERE url IN `, hit)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("sqlite: blacklist queue: %w", err)
	}
	query, args = inClause(`DELETE FROM crawl_queue WHERE url IN `, hit)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: blacklist queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: blacklist queue commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) DeleteQueueWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}
	query, args := inClause(`DELETE FROM crawl_queue WHERE url IN `, hit)
	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) DedupeQueue(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM crawl_queue
		WHERE status = 'pending'
		AND id NOT IN (
			SELECT MIN(id) FROM crawl_queue WHERE status = 'pending' GROUP BY url
		)`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: dedupe queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (b *sqliteBackend) selectStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return out, nil
}

// inClause expands prefix with a parenthesized placeholder list for values.
func inClause(prefix string, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return prefix + "(" + strings.Join(marks, ", ") + ")", args
}

// nullInt scans a nullable aggregate into an int, defaulting to zero.
type nullInt struct {
	dst *int
}

func (n *nullInt) Scan(v any) error {
	if v == nil {
		*n.dst = 0
		return nil
	}
	switch x := v.(type) {
	case int64:
		*n.dst = int(x)
	case float64:
		*n.dst = int(x)
	default:
		return fmt.Errorf("sqlite: unexpected aggregate type %T", v)
	}
	return nil
}
