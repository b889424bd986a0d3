// Package worker implements the remote crawl worker that leases URL
// batches from a coordinator, crawls them, and submits the results.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/trawl/pkg/httpclient"
)

// blacklistCacheTTL bounds how long a worker trusts a cached blacklist
// verdict before asking the coordinator again.
const blacklistCacheTTL = 5 * time.Minute

// Client talks to one coordinator.
type Client struct {
	base         string
	token        string
	submitSecret string
	http         *httpclient.Client
	logger       *slog.Logger

	mu    sync.Mutex
	cache map[string]blacklistEntry
}

type blacklistEntry struct {
	blacklisted bool
	at          time.Time
}

// NewClient creates a coordinator client. token is the godmode JWT;
// submitSecret may be empty when the coordinator leaves /submit open.
func NewClient(base, token, submitSecret string, logger *slog.Logger) (*Client, error) {
	hc, err := httpclient.New(httpclient.Config{Timeout: 15 * time.Second, MaxRedirects: 3})
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		token:  token,
		http:   hc,
		logger: logger,
		cache:  make(map[string]blacklistEntry),

		submitSecret: submitSecret,
	}, nil
}

// LeaseURLs fetches the next domain-coherent batch.
func (c *Client) LeaseURLs(ctx context.Context) ([]string, error) {
	var out struct {
		URLs []string `json:"urls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/urls", nil, &out); err != nil {
		return nil, err
	}
	return out.URLs, nil
}

// Submission is the payload for one crawled page.
type Submission struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	ContentHash string   `json:"content_hash"`
	Domain      string   `json:"domain"`
	NewURLs     []string `json:"new_urls"`
}

// Submit posts a crawl result. A 400 means the coordinator rejected the
// submission (validation or blacklist); that is an outcome, not an error.
func (c *Client) Submit(ctx context.Context, sub Submission) (accepted bool, err error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("worker: marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/submit", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("worker: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.submitSecret != "" {
		req.Header.Set("X-Trawl-Submit-Key", c.submitSecret)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("worker: submit: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusBadRequest:
		return false, nil
	default:
		return false, fmt.Errorf("worker: submit: unexpected status %d", resp.StatusCode)
	}
}

// IsBlacklisted asks the coordinator whether a domain is blacklisted,
// caching verdicts for a few minutes. Any failure fails closed: a domain
// the worker cannot verify is treated as blacklisted so nothing is crawled
// without authorization.
func (c *Client) IsBlacklisted(ctx context.Context, domain string) bool {
	c.mu.Lock()
	if e, ok := c.cache[domain]; ok && time.Since(e.at) < blacklistCacheTTL {
		c.mu.Unlock()
		return e.blacklisted
	}
	c.mu.Unlock()

	var out struct {
		Blacklisted bool `json:"blacklisted"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/blacklist_domain?domain="+domain, nil, &out)
	verdict := out.Blacklisted
	if err != nil {
		c.logger.Warn("blacklist check failed, failing closed", "domain", domain, "err", err)
		verdict = true
	}

	c.mu.Lock()
	c.cache[domain] = blacklistEntry{blacklisted: verdict, at: time.Now()}
	c.mu.Unlock()
	return verdict
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("worker: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("worker: decode %s: %w", path, err)
	}
	return nil
}
