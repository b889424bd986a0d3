package dedupe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/store"
)

// Sweeper periodically removes duplicated pending rows from the crawl
// queue, keeping the lowest-id row of each URL group. It can be toggled
// and retuned at runtime through the coordinator's config endpoint.
type Sweeper struct {
	store  store.Store
	logger *slog.Logger

	mu       sync.Mutex
	enabled  bool
	interval time.Duration
}

// NewSweeper creates a Sweeper. interval <= 0 falls back to 10 minutes.
func NewSweeper(st store.Store, enabled bool, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    st,
		logger:   logger,
		enabled:  enabled,
		interval: interval,
	}
}

// Configure updates the enabled flag and interval. A nil field pointer
// leaves that setting unchanged.
func (s *Sweeper) Configure(enabled *bool, interval *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled != nil {
		s.enabled = *enabled
	}
	if interval != nil && *interval > 0 {
		s.interval = *interval
	}
}

// Snapshot returns the current settings.
func (s *Sweeper) Snapshot() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, s.interval
}

// Run loops until ctx is done, sweeping whenever the interval elapses and
// the sweeper is enabled. The check cadence is one minute so interval
// changes take effect promptly.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enabled, interval := s.Snapshot()
			if !enabled || time.Since(last) < interval {
				continue
			}
			n, err := s.store.DedupeQueue(ctx)
			if err != nil {
				s.logger.Error("queue dedupe sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("queue dedupe sweep removed rows", "rows", n)
			}
			last = time.Now()
		}
	}
}
