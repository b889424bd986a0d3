// Package writer serializes every mutation of the persisted tables through
// a single consumer goroutine. Producers hand over typed requests as values
// and never touch table state themselves.
package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/internal/store"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("writer: closed")

// Request is one unit of write work. Implementations are plain values.
// Each store call the writer makes runs in its own transaction; Blacklist
// makes several such calls in sequence.
type Request interface {
	kind() string
}

// RecordVisited inserts the URL into the visited set.
type RecordVisited struct {
	URL string
}

// EnqueuePending inserts a URL into the pending set if absent.
type EnqueuePending struct {
	URL   string
	Depth int
}

// DequeuePending removes a URL from the pending set.
type DequeuePending struct {
	URL string
}

// SavePage upserts a page with its tags and images. When CheckDuplicate is
// set the near-duplicate scan runs first and a hit discards the whole
// request, tags and images included.
type SavePage struct {
	Page           store.Page
	CheckDuplicate bool
}

// RecordLanguage upserts the detected language for a URL.
type RecordLanguage struct {
	URL      string
	Language string
}

// Blacklist persists a blacklist pattern and purges matching pending URLs,
// queue rows, and pages.
type Blacklist struct {
	Pattern string
	Match   func(host string) bool
}

// Unblacklist removes the pattern only; existing data is untouched.
type Unblacklist struct {
	Pattern string
}

// BlockDomain persists a host the terms-of-service heuristic flagged.
type BlockDomain struct {
	Domain string
}

// ClearDomain deletes matching queue rows without touching the pattern set.
type ClearDomain struct {
	Pattern string
	Match   func(host string) bool
}

func (RecordVisited) kind() string  { return "record_visited" }
func (EnqueuePending) kind() string { return "enqueue_pending" }
func (DequeuePending) kind() string { return "dequeue_pending" }
func (SavePage) kind() string       { return "save_page" }
func (RecordLanguage) kind() string { return "record_language" }
func (Blacklist) kind() string      { return "blacklist" }
func (Unblacklist) kind() string    { return "unblacklist" }
func (BlockDomain) kind() string    { return "block_domain" }
func (ClearDomain) kind() string    { return "clear_domain" }

// Deduper decides whether a page is a near-duplicate of one already stored.
type Deduper interface {
	IsNearDuplicate(ctx context.Context, page store.Page) (bool, error)
}

// Writer is the single consumer of the write-request queue.
type Writer struct {
	store  store.Store
	dedup  Deduper
	logger *slog.Logger

	mu     sync.Mutex
	queue  chan Request
	closed bool
	done   chan struct{}
}

// New creates a Writer with a bounded queue. dedup may be nil when the
// near-duplicate check is not wanted (the coordinator relies on its sweep).
func New(st store.Store, dedup Deduper, queueSize int, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:  st,
		dedup:  dedup,
		logger: logger,
		queue:  make(chan Request, queueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine. ctx only bounds individual store
// calls; closing the queue, not ctx, is what stops the writer, so a drain
// can finish after shutdown begins.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for req := range w.queue {
			w.apply(ctx, req)
			metrics.WriteQueueDepth.Set(float64(len(w.queue)))
		}
	}()
}

// Enqueue submits a request, blocking only on queue backpressure.
func (w *Writer) Enqueue(ctx context.Context, req Request) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.mu.Unlock()

	select {
	case w.queue <- req:
		metrics.WriteQueueDepth.Set(float64(len(w.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake. The consumer drains what was already queued.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}

// Wait blocks until the consumer has drained, or the join window elapses.
func (w *Writer) Wait(timeout time.Duration) error {
	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return errors.New("writer: drain timed out")
	}
}

func (w *Writer) apply(ctx context.Context, req Request) {
	var err error
	switch r := req.(type) {
	case RecordVisited:
		err = w.store.RecordVisited(ctx, r.URL)
	case EnqueuePending:
		err = w.store.EnqueuePending(ctx, r.URL, r.Depth)
	case DequeuePending:
		err = w.store.DequeuePending(ctx, r.URL)
	case SavePage:
		err = w.savePage(ctx, r)
	case RecordLanguage:
		err = w.store.RecordLanguage(ctx, r.URL, r.Language)
	case Blacklist:
		err = w.blacklist(ctx, r)
	case Unblacklist:
		err = w.store.RemoveBlacklistedDomain(ctx, r.Pattern)
	case BlockDomain:
		err = w.store.AddBlockedDomain(ctx, r.Domain)
	case ClearDomain:
		_, err = w.store.DeleteQueueWhere(ctx, r.Match)
	default:
		w.logger.Error("unknown write request", "kind", req.kind())
		return
	}

	// The store rolled back; the work unit is lost for this cycle.
	if err != nil {
		metrics.WriteErrors.WithLabelValues(req.kind()).Inc()
		w.logger.Error("db write failed", "kind", req.kind(), "err", err)
	}
}

func (w *Writer) savePage(ctx context.Context, r SavePage) error {
	if r.CheckDuplicate && w.dedup != nil {
		dup, err := w.dedup.IsNearDuplicate(ctx, r.Page)
		if err != nil {
			return err
		}
		if dup {
			metrics.DuplicatesDropped.Inc()
			w.logger.Info("skipped near-duplicate page", "url", r.Page.URL)
			return nil
		}
	}
	return w.store.SavePage(ctx, r.Page)
}

func (w *Writer) blacklist(ctx context.Context, r Blacklist) error {
	if err := w.store.AddBlacklistedDomain(ctx, r.Pattern); err != nil {
		return err
	}
	queued, err := w.store.BlacklistQueueWhere(ctx, r.Match)
	if err != nil {
		return err
	}
	pending, err := w.store.DeletePendingWhere(ctx, r.Match)
	if err != nil {
		return err
	}
	pages, err := w.store.DeletePagesWhere(ctx, r.Match)
	if err != nil {
		return err
	}
	w.logger.Info("blacklisted domain",
		"pattern", r.Pattern, "queue_rows", queued, "pending", pending, "pages", pages)
	return nil
}
