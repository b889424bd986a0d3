// Package store defines the relational persistence interface shared by the
// embedded crawler and the coordinator. Two backends implement it: Postgres
// (pgx) for production and SQLite for embedded runs and tests.
package store

import (
	"context"
	"errors"
)

// ErrNoPending is returned by PopPendingBatch and LeaseHostBatch when the
// pending set is empty.
var ErrNoPending = errors.New("store: no pending urls")

// Pending is one row of the pending set.
type Pending struct {
	URL   string
	Depth int
}

// Page is the persisted record of one crawled page. ContentHash is the
// decimal string form of the 64-bit simhash; empty means unknown.
type Page struct {
	URL         string
	Title       string
	Summary     string
	ContentHash string
	Domain      string
	Tags        []string
	Images      []string
}

// PageHash pairs a stored page URL with its content hash, for the
// near-duplicate scan.
type PageHash struct {
	URL         string
	ContentHash string
}

// QueueCounts reports the crawl_queue state machine populations.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
}

// Store is the complete persistence surface. Every method executes in its
// own transaction; callers never observe partial writes.
type Store interface {
	// Migrate creates missing tables and columns. It is idempotent and is
	// called once at startup; failure is fatal to the process.
	Migrate(ctx context.Context) error
	Close() error

	// Frontier: pending and visited sets.
	RecordVisited(ctx context.Context, url string) error
	VisitedURLs(ctx context.Context) ([]string, error)
	// RemoveVisited forgets URLs so a later run re-enqueues them as seeds.
	RemoveVisited(ctx context.Context, urls []string) (int64, error)
	EnqueuePending(ctx context.Context, url string, depth int) error
	DequeuePending(ctx context.Context, url string) error
	PendingCount(ctx context.Context) (int, error)
	// PopPendingBatch selects up to n pending rows and deletes them in the
	// same transaction, transitioning them to in-flight.
	PopPendingBatch(ctx context.Context, n int) ([]Pending, error)

	// Pages.
	SavePage(ctx context.Context, page Page) error
	PageHashes(ctx context.Context) ([]PageHash, error)
	RecordLanguage(ctx context.Context, url, language string) error
	DeletePagesWhere(ctx context.Context, match func(domain string) bool) (int64, error)
	DeletePendingWhere(ctx context.Context, match func(host string) bool) (int64, error)

	// Domain policy persistence.
	BlockedDomains(ctx context.Context) ([]string, error)
	AddBlockedDomain(ctx context.Context, domain string) error
	BlacklistedDomains(ctx context.Context) ([]string, error)
	AddBlacklistedDomain(ctx context.Context, pattern string) error
	RemoveBlacklistedDomain(ctx context.Context, pattern string) error

	// Coordinator crawl queue.
	QueueCounts(ctx context.Context) (QueueCounts, error)
	EnqueueQueueURL(ctx context.Context, url string) error
	// LeaseHostBatch picks a single host among pending rows not matched by
	// skip, marks that host's rows processing, and returns them. The
	// Postgres backend locks the candidate rows with SKIP LOCKED so
	// concurrent coordinators never lease the same row twice.
	LeaseHostBatch(ctx context.Context, limit int, skip func(host string) bool) ([]string, string, error)
	CompleteQueueURL(ctx context.Context, url string) error
	CompleteHost(ctx context.Context, host string) (int64, error)
	ResetQueue(ctx context.Context) error
	// BlacklistQueueWhere marks matching rows blacklisted and then deletes
	// them, per the queue row state machine.
	BlacklistQueueWhere(ctx context.Context, match func(host string) bool) (int64, error)
	DeleteQueueWhere(ctx context.Context, match func(host string) bool) (int64, error)
	// DedupeQueue removes duplicated pending rows by URL, keeping the
	// lowest-id row of each group.
	DedupeQueue(ctx context.Context) (int64, error)
}
