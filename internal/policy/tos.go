package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/trawl/pkg/httpclient"
)

// tosPaths are the well-known locations probed for a terms-of-service page.
var tosPaths = []string{"/terms", "/terms-of-service", "/tos", "/legal/terms"}

const (
	tosTimeout = 5 * time.Second
	tosBodyCap = 1 << 20
)

// TOSProber applies the terms-of-service heuristic: hosts whose ToS page
// contains a forbidding keyword are added to the persisted blocked set.
// Each host is probed at most once per process lifetime. The heuristic is a
// known source of false positives, so the keyword list is configurable and
// every addition to the blocked set is logged with its evidence.
type TOSProber struct {
	client    *httpclient.Client
	keywords  []string
	userAgent string
	scheme    string
	persist   func(ctx context.Context, domain string) error
	logger    *slog.Logger

	mu      sync.Mutex
	checked map[string]struct{}
	blocked map[string]struct{}
}

// NewTOSProber builds a prober. preloadBlocked carries the persisted
// blocked set so previously flagged hosts are vetoed without re-probing.
// persist is called for every new addition; it may be nil in tests.
func NewTOSProber(keywords []string, userAgent string, preloadBlocked []string,
	persist func(ctx context.Context, domain string) error, logger *slog.Logger) (*TOSProber, error) {

	client, err := httpclient.New(httpclient.Config{Timeout: tosTimeout, MaxRedirects: 3})
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &TOSProber{
		client:    client,
		keywords:  keywords,
		userAgent: userAgent,
		scheme:    "https",
		persist:   persist,
		logger:    logger,
		checked:   make(map[string]struct{}),
		blocked:   make(map[string]struct{}),
	}
	for _, d := range preloadBlocked {
		p.checked[d] = struct{}{}
		p.blocked[d] = struct{}{}
	}
	return p, nil
}

// Blocked reports whether the host's terms of service forbid crawling.
// The first call for a host performs the probe; later calls hit the memo.
func (p *TOSProber) Blocked(ctx context.Context, host string) bool {
	p.mu.Lock()
	if _, done := p.checked[host]; done {
		_, blocked := p.blocked[host]
		p.mu.Unlock()
		return blocked
	}
	p.checked[host] = struct{}{}
	p.mu.Unlock()

	match, found := p.probe(ctx, host)
	if !found {
		return false
	}

	p.mu.Lock()
	p.blocked[host] = struct{}{}
	p.mu.Unlock()

	p.logger.Info("domain blocked by terms-of-service heuristic",
		"host", host, "term", match.Term, "occurrences", match.Count, "evidence", match.Sentence)

	if p.persist != nil {
		if err := p.persist(ctx, host); err != nil {
			p.logger.Error("failed to persist blocked domain", "host", host, "err", err)
		}
	}
	return true
}

func (p *TOSProber) probe(ctx context.Context, host string) (KeywordMatch, bool) {
	for _, path := range tosPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.scheme+"://"+host+path, nil)
		if err != nil {
			continue
		}
		req.Header.Set("User-Agent", p.userAgent)

		resp, err := p.client.Do(ctx, req)
		if err != nil {
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, tosBodyCap))
		resp.Body.Close()
		if readErr != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		if match, found := FindForbiddance(string(body), p.keywords); found {
			return match, true
		}
	}
	return KeywordMatch{}, false
}
