// Package crawl drives the embedded breadth-first crawl: batch pop,
// bounded parallel fetches, extraction, and write production.
package crawl

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/extract"
	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/FranksOps/trawl/internal/frontier"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/report"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/writer"
	"github.com/FranksOps/trawl/pkg/urlutil"
	"golang.org/x/sync/errgroup"
)

// Config provides parameters for the crawl loop.
type Config struct {
	Threads  int
	MaxDepth int
	MaxTags  int
}

// Crawler coordinates batches of fetch workers over the frontier.
type Crawler struct {
	cfg      Config
	fetcher  *fetch.Fetcher
	gate     *policy.Gate
	frontier *frontier.Frontier
	writer   *writer.Writer
	logger   *slog.Logger

	// shutdown stops new batch dispatch; in-flight fetches finish under
	// their own timeout.
	shutdown atomic.Bool
}

// New creates a Crawler.
func New(cfg Config, fetcher *fetch.Fetcher, gate *policy.Gate, fr *frontier.Frontier,
	w *writer.Writer, logger *slog.Logger) *Crawler {
	if cfg.Threads <= 0 {
		cfg.Threads = 2
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		cfg:      cfg,
		fetcher:  fetcher,
		gate:     gate,
		frontier: fr,
		writer:   w,
		logger:   logger,
	}
}

// RequestStop flags shutdown. The current batch completes; no new batch is
// dispatched.
func (c *Crawler) RequestStop() {
	c.shutdown.Store(true)
}

// Run pops batches until the pending set drains, shutdown is requested, or
// ctx is cancelled. It returns the run summary.
func (c *Crawler) Run(ctx context.Context) (report.Summary, error) {
	collector := report.NewCollector(time.Now())

	batch := 1
	for !c.shutdown.Load() && ctx.Err() == nil {
		pending, err := c.frontier.PopBatch(ctx, c.cfg.Threads)
		if errors.Is(err, store.ErrNoPending) {
			c.logger.Info("pending queue empty, crawl complete")
			break
		}
		if err != nil {
			return collector.Finish(time.Now()), err
		}

		c.logger.Info("dispatching batch", "batch", batch, "urls", len(pending))
		batch++

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Threads)
		for _, p := range pending {
			p := p
			g.Go(func() error {
				c.processURL(gctx, p, collector)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return collector.Finish(time.Now()), err
		}
	}

	return collector.Finish(time.Now()), ctx.Err()
}

// processURL runs the full pipeline for one pending entry. Failures never
// escape: each path reports a typed outcome and returns.
func (c *Crawler) processURL(ctx context.Context, p store.Pending, collector *report.Collector) {
	url := urlutil.Normalize(p.URL)

	decision := c.gate.Check(ctx, url, p.Depth)
	if !decision.Allow {
		collector.Dropped(decision.Reason)
		c.note(ctx, url, frontier.OutcomeDropped)
		return
	}

	if !c.frontier.NoteDispatch(url) {
		// Another worker or a prior run already claimed it.
		c.note(ctx, url, frontier.OutcomeDropped)
		return
	}

	result, err := c.fetcher.Fetch(ctx, url, decision.CrawlDelay)
	if err != nil {
		c.logger.Error("fetch failed", "url", url, "err", err)
		collector.Failed(0)
		c.note(ctx, url, frontier.OutcomeFailed)
		return
	}
	if result.StatusCode != http.StatusOK {
		c.logger.Debug("non-200 response", "url", url, "status", result.StatusCode)
		collector.Failed(result.StatusCode)
		c.note(ctx, url, frontier.OutcomeFailed)
		return
	}

	collector.Fetched(result.StatusCode, len(result.Body))
	c.note(ctx, url, frontier.OutcomeFetched)

	doc := extract.Parse(url, result.Body, result.Header)

	// Feeds and sitemaps contribute links but are never stored as pages.
	if !doc.IsXML {
		c.persistPage(ctx, url, doc)
	} else {
		c.logger.Debug("xml content, links only", "url", url)
	}

	enqueued := 0
	for _, link := range doc.Links {
		if err := c.frontier.Enqueue(ctx, urlutil.Normalize(link), p.Depth+1); err != nil {
			c.logger.Error("enqueue failed", "url", link, "err", err)
			continue
		}
		enqueued++
	}
	collector.Enqueued(enqueued)
}

func (c *Crawler) persistPage(ctx context.Context, url string, doc *extract.Document) {
	page := store.Page{
		URL:         url,
		Title:       doc.Title,
		Summary:     doc.Summary,
		ContentHash: dedupe.Fingerprint(doc.Summary),
		Domain:      urlutil.Host(url),
		Tags:        extract.GenerateTags(doc.Title, doc.Text, url, c.cfg.MaxTags),
		Images:      doc.Images,
	}
	if err := c.writer.Enqueue(ctx, writer.SavePage{Page: page, CheckDuplicate: true}); err != nil {
		c.logger.Error("save page enqueue failed", "url", url, "err", err)
		return
	}
	if err := c.writer.Enqueue(ctx, writer.RecordLanguage{URL: url, Language: extract.DetectLanguage(doc.Text)}); err != nil {
		c.logger.Error("record language enqueue failed", "url", url, "err", err)
	}
}

func (c *Crawler) note(ctx context.Context, url string, outcome frontier.Outcome) {
	if err := c.frontier.NoteCompletion(ctx, url, outcome); err != nil {
		c.logger.Error("completion write failed", "url", url, "err", err)
	}
}
