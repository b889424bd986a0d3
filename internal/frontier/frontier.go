// Package frontier owns the pending and visited sets that define what
// remains to be crawled. The durable sets live in the store; an in-memory
// visited mirror short-circuits duplicates without a round trip.
package frontier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/writer"
)

// Outcome describes how a dispatched URL ended.
type Outcome int

const (
	// OutcomeFetched: the page was retrieved and its writes were produced.
	OutcomeFetched Outcome = iota
	// OutcomeFailed: fetch failed after retries; the URL leaves pending
	// without joining visited, so it may be rediscovered later.
	OutcomeFailed
	// OutcomeDropped: a policy veto; the URL leaves pending unrecorded.
	OutcomeDropped
)

// Frontier mediates all pending/visited transitions. Mutations flow through
// the writer; only the batch pop, the startup preload, and the startup
// seeding touch the store directly (reads, the atomic pop transaction, and
// the seed inserts).
type Frontier struct {
	store  store.Store
	writer *writer.Writer
	logger *slog.Logger

	mu      sync.Mutex
	visited map[string]struct{}
}

// New creates a Frontier. Call Load before the first crawl loop.
func New(st store.Store, w *writer.Writer, logger *slog.Logger) *Frontier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontier{
		store:   st,
		writer:  w,
		logger:  logger,
		visited: make(map[string]struct{}),
	}
}

// Load preloads the in-memory visited mirror from the durable set.
func (f *Frontier) Load(ctx context.Context) error {
	urls, err := f.store.VisitedURLs(ctx)
	if err != nil {
		return fmt.Errorf("frontier: preload visited: %w", err)
	}
	f.mu.Lock()
	for _, u := range urls {
		f.visited[u] = struct{}{}
	}
	f.mu.Unlock()
	f.logger.Info("visited set preloaded", "count", len(urls))
	return nil
}

// SeedIfEmpty inserts the seeds at depth 0 when the pending set is empty.
// It runs at startup before the crawl loop, directly against the store.
func (f *Frontier) SeedIfEmpty(ctx context.Context, seeds []string) (bool, error) {
	count, err := f.store.PendingCount(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	for _, s := range seeds {
		if err := f.store.EnqueuePending(ctx, s, 0); err != nil {
			return false, err
		}
	}
	f.logger.Info("seeded pending set", "count", len(seeds))
	return true, nil
}

// PopBatch atomically removes up to n pending rows and returns them.
func (f *Frontier) PopBatch(ctx context.Context, n int) ([]store.Pending, error) {
	return f.store.PopPendingBatch(ctx, n)
}

// ShouldFetch reports whether the URL is still worth dispatching: it must
// not have been visited in this process or any prior run.
func (f *Frontier) ShouldFetch(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, seen := f.visited[url]
	return !seen
}

// NoteDispatch marks the URL as claimed by a fetcher. It returns false when
// another worker got there first, making the claim atomic.
func (f *Frontier) NoteDispatch(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, seen := f.visited[url]; seen {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

// NoteCompletion records the dispatch outcome. Fetched URLs join the
// durable visited set; every outcome leaves pending. Writes are produced in
// order for a single URL, which the writer preserves.
func (f *Frontier) NoteCompletion(ctx context.Context, url string, outcome Outcome) error {
	if outcome == OutcomeFetched {
		if err := f.writer.Enqueue(ctx, writer.RecordVisited{URL: url}); err != nil {
			return err
		}
	}
	return f.writer.Enqueue(ctx, writer.DequeuePending{URL: url})
}

// Enqueue adds a discovered link to the pending set unless it was already
// visited. Enqueueing is insert-if-absent, so pending duplicates collapse.
func (f *Frontier) Enqueue(ctx context.Context, url string, depth int) error {
	if !f.ShouldFetch(url) {
		return nil
	}
	return f.writer.Enqueue(ctx, writer.EnqueuePending{URL: url, Depth: depth})
}
