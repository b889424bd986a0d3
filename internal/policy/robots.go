package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/temoto/robotstxt"
)

// RobotsAuditor manages robots.txt fetching and enforcement. One parser is
// lazily constructed per host and never invalidated within a process run.
// A host whose robots.txt cannot be fetched or parsed is permissive.
type RobotsAuditor struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
	mu      sync.RWMutex
	cache   map[string]*robotstxt.RobotsData
}

// NewRobotsAuditor creates a new instance.
func NewRobotsAuditor(fetcher *fetch.Fetcher, logger *slog.Logger) *RobotsAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsAuditor{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed determines if the URL is allowed by the host's robots.txt for
// the given User-Agent.
func (r *RobotsAuditor) IsAllowed(ctx context.Context, targetURL, userAgent string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	data := r.getOrFetch(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true
	}
	return data.FindGroup(userAgent).Test(u.Path)
}

// CrawlDelay returns the Crawl-delay advertised for the User-Agent on the
// URL's host, or 0 when none is set. A positive value supersedes the
// crawler's default per-domain delay.
func (r *RobotsAuditor) CrawlDelay(ctx context.Context, targetURL, userAgent string) time.Duration {
	u, err := url.Parse(targetURL)
	if err != nil {
		return 0
	}
	data := r.getOrFetch(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return 0
	}
	return data.FindGroup(userAgent).CrawlDelay
}

func (r *RobotsAuditor) getOrFetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	r.mu.RLock()
	data, exists := r.cache[origin]
	r.mu.RUnlock()
	if exists {
		return data
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, exists = r.cache[origin]
	if exists {
		return data
	}

	data = r.fetchLocked(ctx, origin)
	r.cache[origin] = data
	return data
}

// fetchLocked retrieves and parses robots.txt for one origin. A nil result
// means the host is treated as permissive.
func (r *RobotsAuditor) fetchLocked(ctx context.Context, origin string) *robotstxt.RobotsData {
	result, err := r.fetcher.Fetch(ctx, fmt.Sprintf("%s/robots.txt", origin), 0)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", "origin", origin, "err", err)
		return nil
	}
	if result.StatusCode >= 400 {
		return nil
	}

	parsed, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed, defaulting to allow", "origin", origin, "err", err)
		return nil
	}
	return parsed
}
