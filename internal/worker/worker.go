package worker

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/FranksOps/trawl/internal/extract"
	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/pkg/urlutil"
	"golang.org/x/sync/errgroup"
)

// idleWait is how long the worker sleeps when the coordinator has no URLs.
const idleWait = 30 * time.Second

// Config tunes one worker node.
type Config struct {
	// Threads is capped at the node's logical CPU count.
	Threads       int
	MinTags       int
	MaxTags       int
	UserAgent     string
	EnforceRobots bool
}

// Worker crawls coordinator-leased batches and submits results.
type Worker struct {
	cfg     Config
	client  *Client
	fetcher *fetch.Fetcher
	robots  *policy.RobotsAuditor
	logger  *slog.Logger
}

// New creates a Worker.
func New(cfg Config, client *Client, fetcher *fetch.Fetcher, robots *policy.RobotsAuditor, logger *slog.Logger) *Worker {
	if cfg.Threads <= 0 {
		cfg.Threads = 2
	}
	if cpus := runtime.NumCPU(); cfg.Threads > cpus {
		cfg.Threads = cpus
	}
	if cfg.MinTags <= 0 {
		cfg.MinTags = 20
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{cfg: cfg, client: client, fetcher: fetcher, robots: robots, logger: logger}
}

// Run leases batches until ctx is cancelled. An empty lease backs off
// rather than hammering the coordinator.
func (w *Worker) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		urls, err := w.client.LeaseURLs(ctx)
		if err != nil {
			w.logger.Error("lease failed", "err", err)
			if !sleepCtx(ctx, idleWait) {
				break
			}
			continue
		}
		if len(urls) == 0 {
			w.logger.Debug("no pending urls, idling")
			if !sleepCtx(ctx, idleWait) {
				break
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.cfg.Threads)
		for _, u := range urls {
			u := u
			g.Go(func() error {
				w.crawlOne(gctx, u)
				return nil
			})
		}
		_ = g.Wait()
	}
	return ctx.Err()
}

func (w *Worker) crawlOne(ctx context.Context, rawURL string) {
	domain := urlutil.Host(rawURL)
	if w.client.IsBlacklisted(ctx, domain) {
		w.logger.Info("skipping blacklisted domain", "url", rawURL, "domain", domain)
		return
	}
	if w.cfg.EnforceRobots && !w.robots.IsAllowed(ctx, rawURL, w.cfg.UserAgent) {
		w.logger.Info("url disallowed by robots.txt", "url", rawURL)
		return
	}

	delay := w.robots.CrawlDelay(ctx, rawURL, w.cfg.UserAgent)
	result, err := w.fetcher.Fetch(ctx, rawURL, delay)
	if err != nil {
		w.logger.Error("fetch failed", "url", rawURL, "err", err)
		return
	}
	if result.StatusCode != http.StatusOK {
		w.logger.Debug("non-200 response", "url", rawURL, "status", result.StatusCode)
		return
	}

	doc := extract.Parse(rawURL, result.Body, result.Header)
	sub := BuildSubmission(rawURL, doc, w.cfg.MinTags, w.cfg.MaxTags)

	accepted, err := w.client.Submit(ctx, sub)
	if err != nil {
		w.logger.Error("submit failed", "url", rawURL, "err", err)
		return
	}
	if !accepted {
		w.logger.Info("submission rejected by coordinator", "url", rawURL)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
