package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/trawl/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure pgBackend implements store.Store
var _ store.Store = (*pgBackend)(nil)

type pgBackend struct {
	pool *pgxpool.Pool
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
	timestamp TIMESTAMPTZ DEFAULT NOW(),
	tsv TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', coalesce(title, '') || ' ' || coalesce(summary, ''))
	) STORED
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
	id BIGSERIAL PRIMARY KEY,
	url TEXT UNIQUE NOT NULL,
	status TEXT DEFAULT 'pending',
	last_crawled TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_webpages_timestamp ON webpages(timestamp);
CREATE INDEX IF NOT EXISTS idx_webpages_tsv ON webpages USING GIN(tsv);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_status ON crawl_queue(status);
`

// New creates a Postgres-backed store.Store.
func New(ctx context.Context, dsn string) (store.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &pgBackend{pool: pool}, nil
}

func (b *pgBackend) Migrate(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: create tables: %w", err)
	}

	// Older deployments predate the depth column.
	var present bool
	err := b.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'pending_urls' AND column_name = 'depth'
		)`).Scan(&present)
	if err != nil {
		return fmt.Errorf("postgres: probe depth column: %w", err)
	}
	if !present {
		if _, err := b.pool.Exec(ctx, `ALTER TABLE pending_urls ADD COLUMN depth INTEGER DEFAULT 0`); err != nil {
			return fmt.Errorf("postgres: add depth column: %w", err)
		}
		if _, err := b.pool.Exec(ctx, `UPDATE pending_urls SET depth = 0 WHERE depth IS NULL`); err != nil {
			return fmt.Errorf("postgres: backfill depth column: %w", err)
		}
	}
	return nil
}

func (b *pgBackend) Close() error {
	b.pool.Close()
	return nil
}

func (b *pgBackend) RecordVisited(ctx context.Context, url string) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO crawled_urls(url) VALUES ($1) ON CONFLICT DO NOTHING`, url)
	if err != nil {
		return fmt.Errorf("postgres: record visited: %w", err)
	}
	return nil
}

func (b *pgBackend) VisitedURLs(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT url FROM crawled_urls`)
}

func (b *pgBackend) RemoveVisited(ctx context.Context, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	res, err := b.pool.Exec(ctx, `DELETE FROM crawled_urls WHERE url = ANY($1)`, urls)
	if err != nil {
		return 0, fmt.Errorf("postgres: remove visited: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) EnqueuePending(ctx context.Context, url string, depth int) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO pending_urls(url, depth) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, url, depth)
	if err != nil {
		return fmt.Errorf("postgres: enqueue pending: %w", err)
	}
	return nil
}

func (b *pgBackend) DequeuePending(ctx context.Context, url string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM pending_urls WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("postgres: dequeue pending: %w", err)
	}
	return nil
}

func (b *pgBackend) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_urls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: pending count: %w", err)
	}
	return n, nil
}

func (b *pgBackend) PopPendingBatch(ctx context.Context, n int) ([]store.Pending, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: pop batch: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT url, depth FROM pending_urls
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: pop batch: %w", err)
	}
	batch, err := scanPending(rows)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, store.ErrNoPending
	}

	urls := make([]string, len(batch))
	for i, p := range batch {
		urls[i] = p.URL
	}
	if _, err := tx.Exec(ctx, `DELETE FROM pending_urls WHERE url = ANY($1)`, urls); err != nil {
		return nil, fmt.Errorf("postgres: pop batch delete: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: pop batch commit: %w", err)
	}
	return batch, nil
}

func (b *pgBackend) SavePage(ctx context.Context, page store.Page) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save page: %w", err)
	}
	defer tx.Rollback(ctx)

	// On conflict, only overwrite columns the new record actually carries.
	_, err = tx.Exec(ctx, `
		INSERT INTO webpages (url, title, summary, content_hash, domain, timestamp)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (url) DO UPDATE SET
			title        = CASE WHEN EXCLUDED.title <> ''        THEN EXCLUDED.title        ELSE webpages.title        END,
			summary      = CASE WHEN EXCLUDED.summary <> ''      THEN EXCLUDED.summary      ELSE webpages.summary      END,
			content_hash = CASE WHEN EXCLUDED.content_hash <> '' THEN EXCLUDED.content_hash ELSE webpages.content_hash END,
			domain       = CASE WHEN EXCLUDED.domain <> ''       THEN EXCLUDED.domain       ELSE webpages.domain       END,
			timestamp    = NOW()`,
		page.URL, page.Title, page.Summary, page.ContentHash, page.Domain)
	if err != nil {
		return fmt.Errorf("postgres: save page: %w", err)
	}

	for _, tag := range page.Tags {
		if _, err := tx.Exec(ctx, `
			INSERT INTO tags (url, tag) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, page.URL, tag); err != nil {
			return fmt.Errorf("postgres: save tag: %w", err)
		}
	}
	for _, image := range page.Images {
		if _, err := tx.Exec(ctx, `
			INSERT INTO images (url, image_url) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, page.URL, image); err != nil {
			return fmt.Errorf("postgres: save image: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save page commit: %w", err)
	}
	return nil
}

func (b *pgBackend) PageHashes(ctx context.Context) ([]store.PageHash, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT url, content_hash FROM webpages
		WHERE content_hash IS NOT NULL AND content_hash <> ''`)
	if err != nil {
		return nil, fmt.Errorf("postgres: page hashes: %w", err)
	}
	defer rows.Close()

	var hashes []store.PageHash
	for rows.Next() {
		var h store.PageHash
		if err := rows.Scan(&h.URL, &h.ContentHash); err != nil {
			return nil, fmt.Errorf("postgres: page hashes: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: page hashes: %w", err)
	}
	return hashes, nil
}

func (b *pgBackend) RecordLanguage(ctx context.Context, url, language string) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO language (url, language) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET language = EXCLUDED.language`, url, language)
	if err != nil {
		return fmt.Errorf("postgres: record language: %w", err)
	}
	return nil
}

func (b *pgBackend) DeletePagesWhere(ctx context.Context, match func(domain string) bool) (int64, error) {
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

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pages: %w", err)
	}
	defer tx.Rollback(ctx)

	// tags/images/language join on url; clear them before the page rows go.
	for _, stmt := range []string{
		`DELETE FROM tags WHERE url IN (SELECT url FROM webpages WHERE domain = ANY($1))`,
		`DELETE FROM images WHERE url IN (SELECT url FROM webpages WHERE domain = ANY($1))`,
		`DELETE FROM language WHERE url IN (SELECT url FROM webpages WHERE domain = ANY($1))`,
	} {
		if _, err := tx.Exec(ctx, stmt, hit); err != nil {
			return 0, fmt.Errorf("postgres: delete pages: %w", err)
		}
	}
	res, err := tx.Exec(ctx, `DELETE FROM webpages WHERE domain = ANY($1)`, hit)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: delete pages commit: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) DeletePendingWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM pending_urls`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}
	res, err := b.pool.Exec(ctx, `DELETE FROM pending_urls WHERE url = ANY($1)`, hit)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete pending: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) BlockedDomains(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT domain FROM blocked_domains`)
}

func (b *pgBackend) AddBlockedDomain(ctx context.Context, domain string) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO blocked_domains(domain) VALUES ($1) ON CONFLICT DO NOTHING`, domain)
	if err != nil {
		return fmt.Errorf("postgres: add blocked domain: %w", err)
	}
	return nil
}

func (b *pgBackend) BlacklistedDomains(ctx context.Context) ([]string, error) {
	return b.selectStrings(ctx, `SELECT domain FROM blacklisted_domains`)
}

func (b *pgBackend) AddBlacklistedDomain(ctx context.Context, pattern string) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO blacklisted_domains(domain) VALUES ($1) ON CONFLICT DO NOTHING`, pattern)
	if err != nil {
		return fmt.Errorf("postgres: add blacklisted domain: %w", err)
	}
	return nil
}

func (b *pgBackend) RemoveBlacklistedDomain(ctx context.Context, pattern string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM blacklisted_domains WHERE domain = $1`, pattern)
	if err != nil {
		return fmt.Errorf("postgres: remove blacklisted domain: %w", err)
	}
	return nil
}

func (b *pgBackend) QueueCounts(ctx context.Context) (store.QueueCounts, error) {
	var counts store.QueueCounts
	err := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed')
		FROM crawl_queue`).Scan(&counts.Pending, &counts.Processing, &counts.Completed)
	if err != nil {
		return counts, fmt.Errorf("postgres: queue counts: %w", err)
	}
	return counts, nil
}

func (b *pgBackend) EnqueueQueueURL(ctx context.Context, url string) error {
	_, err := b.pool.Exec(ctx, `INSERT INTO crawl_queue (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`, url)
	if err != nil {
		return fmt.Errorf("postgres: enqueue queue url: %w", err)
	}
	return nil
}

func (b *pgBackend) LeaseHostBatch(ctx context.Context, limit int, skip func(host string) bool) ([]string, string, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: lease batch: %w", err)
	}
	defer tx.Rollback(ctx)

	// Candidate scan is bounded so one lease never locks the whole
	// pending set away from concurrent coordinators.
	rows, err := tx.Query(ctx, `
		SELECT url FROM crawl_queue
		WHERE status = 'pending'
		ORDER BY id
		LIMIT 1000
		FOR UPDATE SKIP LOCKED`)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: lease batch: %w", err)
	}
	candidates, err := scanStrings(rows)
	if err != nil {
		return nil, "", err
	}

	urls, host := store.PickHostBatch(candidates, limit, skip)
	if host == "" {
		return nil, "", store.ErrNoPending
	}

	if _, err := tx.Exec(ctx, `UPDATE crawl_queue SET status = 'processing' WHERE url = ANY($1)`, urls); err != nil {
		return nil, "", fmt.Errorf("postgres: lease batch update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("postgres: lease batch commit: %w", err)
	}
	return urls, host, nil
}

func (b *pgBackend) CompleteQueueURL(ctx context.Context, url string) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'completed', last_crawled = NOW()
		WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("postgres: complete url: %w", err)
	}
	return nil
}

func (b *pgBackend) CompleteHost(ctx context.Context, host string) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, func(h string) bool { return h == host })
	if len(hit) == 0 {
		return 0, nil
	}
	res, err := b.pool.Exec(ctx, `
		UPDATE crawl_queue SET status = 'completed', last_crawled = NOW()
		WHERE url = ANY($1)`, hit)
	if err != nil {
		return 0, fmt.Errorf("postgres: complete host: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) ResetQueue(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: reset queue: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE crawl_queue SET status = 'pending' WHERE status = 'processing'`); err != nil {
		return fmt.Errorf("postgres: reset queue: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM crawl_queue WHERE status = 'completed'`); err != nil {
		return fmt.Errorf("postgres: reset queue: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: reset queue commit: %w", err)
	}
	return nil
}

func (b *pgBackend) BlacklistQueueWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: blacklist queue: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE crawl_queue SET status = 'blacklisted' WHERE url = ANY($1)`, hit); err != nil {
		return 0, fmt.Errorf("postgres: blacklist queue: %w", err)
	}
	res, err := tx.Exec(ctx, `DELETE FROM crawl_queue WHERE url = ANY($1)`, hit)
	if err != nil {
		return 0, fmt.Errorf("postgres: blacklist queue: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: blacklist queue commit: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) DeleteQueueWhere(ctx context.Context, match func(host string) bool) (int64, error) {
	urls, err := b.selectStrings(ctx, `SELECT url FROM crawl_queue`)
	if err != nil {
		return 0, err
	}
	hit := store.FilterByHost(urls, match)
	if len(hit) == 0 {
		return 0, nil
	}
	res, err := b.pool.Exec(ctx, `DELETE FROM crawl_queue WHERE url = ANY($1)`, hit)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete queue: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) DedupeQueue(ctx context.Context) (int64, error) {
	res, err := b.pool.Exec(ctx, `
		WITH duplicates AS (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY url ORDER BY id) AS rn
			FROM crawl_queue
			WHERE status = 'pending'
		)
		DELETE FROM crawl_queue
		WHERE id IN (SELECT id FROM duplicates WHERE rn > 1)`)
	if err != nil {
		return 0, fmt.Errorf("postgres: dedupe queue: %w", err)
	}
	return res.RowsAffected(), nil
}

func (b *pgBackend) selectStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := b.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return scanStrings(rows)
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return out, nil
}

func scanPending(rows pgx.Rows) ([]store.Pending, error) {
	defer rows.Close()
	var out []store.Pending
	for rows.Next() {
		var p store.Pending
		if err := rows.Scan(&p.URL, &p.Depth); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return out, nil
}
