// Package fetch performs single-URL HTTP GETs with retry, TLS fallback, and
// per-domain pacing.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/pkg/httpclient"
	"github.com/FranksOps/trawl/pkg/ratelimit"
	"github.com/FranksOps/trawl/pkg/urlutil"
	"github.com/PuerkitoBio/rehttp"
)

// retryStatuses are the response codes worth a second attempt.
var retryStatuses = []int{429, 500, 502, 503, 504}

const maxRetries = 2

// Config configures a Fetcher.
type Config struct {
	UserAgent    string
	Timeout      time.Duration // per attempt
	MaxBodyBytes int64
	DomainDelay  time.Duration
	// RequestsPerSecond caps the overall fetch rate across domains
	// (0 = unlimited). Jitter randomizes the cap interval.
	RequestsPerSecond float64
	Jitter            float64
}

// Result captures one completed fetch.
type Result struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
	Duration    time.Duration
	// Insecure marks a response obtained after the TLS verification
	// fallback kicked in.
	Insecure bool
}

// Fetcher performs GETs through a shared keep-alive client. A second client
// with verification disabled exists only for the TLS fallback path.
type Fetcher struct {
	cfg      Config
	client   *httpclient.Client
	insecure *httpclient.Client
	domains  *ratelimit.DomainLimiter
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// New initializes a Fetcher.
func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.DomainDelay == 0 {
		cfg.DomainDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      overallTimeout(cfg.Timeout),
		MaxRedirects: 10,
		Transport:    newRetryTransport(nil, cfg.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	insecureBase := http.DefaultTransport.(*http.Transport).Clone()
	insecureBase.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	insecure, err := httpclient.New(httpclient.Config{
		Timeout:      overallTimeout(cfg.Timeout),
		MaxRedirects: 10,
		Transport:    newRetryTransport(insecureBase, cfg.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	return &Fetcher{
		cfg:      cfg,
		client:   client,
		insecure: insecure,
		domains:  ratelimit.NewDomainLimiter(cfg.DomainDelay),
		limiter:  ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter),
		logger:   logger,
	}, nil
}

// newRetryTransport wraps base in the GET-only retry policy: up to two
// additional attempts with exponential backoff on retryable statuses and
// temporary transport errors. Each attempt is cut off after perAttempt.
func newRetryTransport(base http.RoundTripper, perAttempt time.Duration) http.RoundTripper {
	tr := rehttp.NewTransport(
		base,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(maxRetries),
			rehttp.RetryHTTPMethods(http.MethodGet),
			rehttp.RetryAny(
				rehttp.RetryStatuses(retryStatuses...),
				rehttp.RetryTemporaryErr(),
			),
		),
		rehttp.ExpJitterDelay(time.Second, 10*time.Second),
	)
	tr.PerAttemptTimeout = perAttempt
	return tr
}

// overallTimeout bounds a full attempt chain: each attempt gets the
// per-attempt budget plus the worst-case backoff between attempts.
func overallTimeout(perAttempt time.Duration) time.Duration {
	return perAttempt*(maxRetries+1) + 15*time.Second
}

// Stop releases the global rate limiter resources.
func (f *Fetcher) Stop() {
	f.limiter.Stop()
}

// Fetch GETs the URL, waiting out the per-domain delay first. crawlDelay, if
// positive, supersedes the configured delay for this host (robots.txt
// Crawl-delay). On a TLS verification failure the request is retried once
// with verification disabled.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string, crawlDelay time.Duration) (*Result, error) {
	host := urlutil.Host(targetURL)

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := f.domains.Wait(ctx, host, crawlDelay); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	start := time.Now()
	resp, insecure, err := f.do(ctx, targetURL)
	if err != nil {
		metrics.RecordFetch(host, 0, 0, time.Since(start), true)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		metrics.RecordFetch(host, resp.StatusCode, len(body), time.Since(start), true)
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	result := &Result{
		URL:         targetURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    time.Since(start),
		Insecure:    insecure,
	}
	metrics.RecordFetch(host, resp.StatusCode, len(body), result.Duration, false)
	return result, nil
}

func (f *Fetcher) do(ctx context.Context, targetURL string) (*http.Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(ctx, req)
	if err == nil {
		return resp, false, nil
	}

	var certErr *tls.CertificateVerificationError
	if !errors.As(err, &certErr) {
		return nil, false, fmt.Errorf("fetch: %w", err)
	}

	f.logger.Warn("tls verification failed, retrying without verification", "url", targetURL, "err", err)
	retryReq, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("fetch: build request: %w", err)
	}
	retryReq.Header = req.Header.Clone()

	resp, err = f.insecure.Do(ctx, retryReq)
	if err != nil {
		return nil, false, fmt.Errorf("fetch: insecure retry: %w", err)
	}
	return resp, true, nil
}
