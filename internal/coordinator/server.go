// Package coordinator exposes the HTTP surface that distributed workers
// crawl against: URL leases, result submission, blacklist management, and
// the periodic queue dedup sweep.
package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/writer"
	"github.com/google/uuid"
)

// Config wires a coordinator Server.
type Config struct {
	Listen    string
	JWTSecret string
	// SubmitSecret optionally guards /submit with a shared key; empty
	// leaves the endpoint open to workers authenticated by network
	// position.
	SubmitSecret     string
	BatchLimit       int
	MaxURLsPerSubmit int
	MinTags          int
}

// Server holds the coordinator state. Queue mutations run directly against
// the store (independent per-URL upserts); page and blacklist writes flow
// through the single writer so they stay ordered with each other.
type Server struct {
	cfg       Config
	store     store.Store
	writer    *writer.Writer
	blacklist *policy.Blacklist
	sweeper   *dedupe.Sweeper
	logger    *slog.Logger

	mu            sync.Mutex
	currentDomain string

	srv *http.Server
}

// New creates a Server. The blacklist must be preloaded from the store by
// the caller so vetoes apply from the first request.
func New(cfg Config, st store.Store, w *writer.Writer, bl *policy.Blacklist,
	sw *dedupe.Sweeper, logger *slog.Logger) *Server {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.MaxURLsPerSubmit <= 0 {
		cfg.MaxURLsPerSubmit = 50
	}
	if cfg.MinTags <= 0 {
		cfg.MinTags = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		writer:    w,
		blacklist: bl,
		sweeper:   sw,
		logger:    logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	auth := s.requireGodmode

	mux.Handle("GET /status", auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("POST /config", auth(http.HandlerFunc(s.handleConfig)))
	mux.Handle("GET /urls", auth(http.HandlerFunc(s.handleGetURLs)))
	mux.Handle("POST /urls", auth(http.HandlerFunc(s.handlePostURLs)))
	mux.Handle("POST /submit", http.HandlerFunc(s.handleSubmit))
	mux.Handle("POST /skip_domain", auth(http.HandlerFunc(s.handleSkipDomain)))
	mux.Handle("GET /blacklist", auth(http.HandlerFunc(s.handleBlacklist)))
	mux.Handle("GET /blacklist_domain", auth(http.HandlerFunc(s.handleCheckDomain)))
	mux.Handle("POST /blacklist_domain", auth(http.HandlerFunc(s.handleBlacklistDomain)))
	mux.Handle("POST /unblacklist_domain", auth(http.HandlerFunc(s.handleUnblacklistDomain)))
	mux.Handle("POST /clear_blacklisted_urls", auth(http.HandlerFunc(s.handleClearURLs)))

	return s.logRequests(mux)
}

// Start runs the HTTP server and the dedup sweeper until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go s.sweeper.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("coordinator listening", "addr", s.cfg.Listen)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// logRequests tags each request with an id and logs its disposition.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"id", id, "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) currentHost() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDomain
}

func (s *Server) setCurrentHost(host string) {
	s.mu.Lock()
	s.currentDomain = host
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
