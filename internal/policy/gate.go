package policy

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/pkg/urlutil"
)

// Drop reasons, in veto order.
const (
	DropDepth     = "depth"
	DropScheme    = "scheme"
	DropBlacklist = "blacklist"
	DropRobots    = "robots"
	DropTOS       = "tos"
)

// Decision is the gate's verdict on one candidate URL.
type Decision struct {
	Allow  bool
	Reason string // drop reason when !Allow
	// CrawlDelay is the robots.txt Crawl-delay for admitted URLs,
	// 0 when the host advertises none.
	CrawlDelay time.Duration
}

// Gate applies the admission checks in order; the first veto wins.
type Gate struct {
	maxDepth  int
	userAgent string
	blacklist *Blacklist
	robots    *RobotsAuditor
	tos       *TOSProber
	logger    *slog.Logger

	// respectRobots can be toggled off globally by the operator at runtime.
	respectRobots atomic.Bool
}

// GateConfig wires a Gate. Robots and TOS may be nil to disable those checks.
type GateConfig struct {
	MaxDepth      int
	UserAgent     string
	RespectRobots bool
	Blacklist     *Blacklist
	Robots        *RobotsAuditor
	TOS           *TOSProber
}

// NewGate creates a policy gate.
func NewGate(cfg GateConfig, logger *slog.Logger) *Gate {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = NewBlacklist(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		maxDepth:  cfg.MaxDepth,
		userAgent: cfg.UserAgent,
		blacklist: cfg.Blacklist,
		robots:    cfg.Robots,
		tos:       cfg.TOS,
		logger:    logger,
	}
	g.respectRobots.Store(cfg.RespectRobots)
	return g
}

// SetRespectRobots toggles robots.txt enforcement globally.
func (g *Gate) SetRespectRobots(v bool) {
	g.respectRobots.Store(v)
}

// Blacklist exposes the gate's pattern set so drivers can keep it in
// lockstep with the persisted table.
func (g *Gate) Blacklist() *Blacklist {
	return g.blacklist
}

// Check runs the veto chain for a candidate URL at the given depth.
func (g *Gate) Check(ctx context.Context, rawURL string, depth int) Decision {
	if depth > g.maxDepth {
		return g.drop(rawURL, DropDepth)
	}
	if !urlutil.IsHTTP(rawURL) {
		return g.drop(rawURL, DropScheme)
	}

	host := urlutil.Host(rawURL)
	if g.blacklist.Match(host) {
		return g.drop(rawURL, DropBlacklist)
	}

	var delay time.Duration
	if g.robots != nil && g.respectRobots.Load() {
		if !g.robots.IsAllowed(ctx, rawURL, g.userAgent) {
			return g.drop(rawURL, DropRobots)
		}
		delay = g.robots.CrawlDelay(ctx, rawURL, g.userAgent)
	}

	if g.tos != nil && g.tos.Blocked(ctx, host) {
		return g.drop(rawURL, DropTOS)
	}

	return Decision{Allow: true, CrawlDelay: delay}
}

func (g *Gate) drop(rawURL, reason string) Decision {
	metrics.PolicyDrops.WithLabelValues(reason).Inc()
	g.logger.Info("url dropped by policy", "url", rawURL, "reason", reason)
	return Decision{Reason: reason}
}
