package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/FranksOps/trawl/internal/metrics"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/writer"
	"github.com/FranksOps/trawl/pkg/urlutil"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.QueueCounts(r.Context())
	if err != nil {
		s.logger.Error("status query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":        counts.Pending,
		"processing":     counts.Processing,
		"completed":      counts.Completed,
		"current_domain": s.currentHost(),
	})
}

type configRequest struct {
	DedupeEnabled  *bool    `json:"dedupe_enabled"`
	DedupeInterval *float64 `json:"dedupe_interval"` // seconds
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var interval *time.Duration
	if req.DedupeInterval != nil {
		d := time.Duration(*req.DedupeInterval * float64(time.Second))
		interval = &d
	}
	s.sweeper.Configure(req.DedupeEnabled, interval)

	enabled, current := s.sweeper.Snapshot()
	s.logger.Info("dedupe config updated", "enabled", enabled, "interval", current)
	writeMessage(w, http.StatusOK, "Configuration updated")
}

func (s *Server) handleGetURLs(w http.ResponseWriter, r *http.Request) {
	urls, host, err := s.store.LeaseHostBatch(r.Context(), s.cfg.BatchLimit, s.blacklist.Match)
	if errors.Is(err, store.ErrNoPending) {
		writeJSON(w, http.StatusOK, map[string]any{"urls": []string{}})
		return
	}
	if err != nil {
		s.logger.Error("lease failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setCurrentHost(host)
	s.logger.Info("leased batch", "host", host, "urls", len(urls))
	writeJSON(w, http.StatusOK, map[string]any{"urls": urls})
}

func (s *Server) handlePostURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reset bool `json:"reset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Reset {
		writeError(w, http.StatusBadRequest, "expected {\"reset\": true}")
		return
	}
	if err := s.store.ResetQueue(r.Context()); err != nil {
		s.logger.Error("queue reset failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setCurrentHost("")
	s.logger.Info("crawl queue reset")
	writeMessage(w, http.StatusOK, "Queue reset")
}

type submitRequest struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	ContentHash string   `json:"content_hash"`
	Domain      string   `json:"domain"`
	NewURLs     []string `json:"new_urls"`
}

// genericTag matches the web0..webN fallback pad a worker emits when a page
// yields nothing usable.
var genericTag = regexp.MustCompile(`^web[0-9]+$`)

func genericOnly(tags []string) bool {
	for _, t := range tags {
		if !genericTag.MatchString(t) {
			return false
		}
	}
	return len(tags) > 0
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.checkSubmitSecret(r) {
		metrics.SubmissionsTotal.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "invalid submit key")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.URL == "" || len(req.URL) > urlutil.MaxURLLength || !urlutil.IsHTTP(req.URL) {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		writeMessage(w, http.StatusBadRequest, "invalid url")
		return
	}
	if len(req.Tags) < s.cfg.MinTags {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		writeMessage(w, http.StatusBadRequest,
			fmt.Sprintf("Insufficient tags (%d < %d)", len(req.Tags), s.cfg.MinTags))
		return
	}
	if genericOnly(req.Tags) {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		writeMessage(w, http.StatusBadRequest, "generic tag set rejected")
		return
	}

	domain := req.Domain
	if domain == "" {
		domain = urlutil.Host(req.URL)
	}
	if s.blacklist.Match(urlutil.Host(req.URL)) || s.blacklist.Match(domain) {
		metrics.SubmissionsTotal.WithLabelValues("blacklisted").Inc()
		s.logger.Info("rejected submission from blacklisted domain", "url", req.URL, "domain", domain)
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Domain %s is blacklisted", domain))
		return
	}

	page := store.Page{
		URL:         req.URL,
		Title:       req.Title,
		Summary:     req.Summary,
		ContentHash: req.ContentHash,
		Domain:      domain,
		Tags:        req.Tags,
	}
	// Submissions skip the near-duplicate scan; the queue sweep handles
	// coordinator-path dedup.
	if err := s.writer.Enqueue(r.Context(), writer.SavePage{Page: page}); err != nil {
		s.logger.Error("submit enqueue failed", "url", req.URL, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.CompleteQueueURL(r.Context(), req.URL); err != nil {
		s.logger.Error("complete url failed", "url", req.URL, "err", err)
	}

	accepted := 0
	for _, raw := range req.NewURLs {
		if accepted >= s.cfg.MaxURLsPerSubmit {
			break
		}
		if len(raw) > urlutil.MaxURLLength || !urlutil.IsHTTP(raw) {
			continue
		}
		if s.blacklist.Match(urlutil.Host(raw)) {
			s.logger.Debug("skipped blacklisted outbound url", "url", raw)
			continue
		}
		if err := s.store.EnqueueQueueURL(r.Context(), raw); err != nil {
			s.logger.Error("enqueue outbound url failed", "url", raw, "err", err)
			continue
		}
		accepted++
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("submission accepted", "url", req.URL, "new_urls", accepted)
	writeMessage(w, http.StatusOK, "Data saved successfully")
}

func (s *Server) handleSkipDomain(w http.ResponseWriter, r *http.Request) {
	host := s.currentHost()
	if host == "" {
		writeMessage(w, http.StatusBadRequest, "No current domain")
		return
	}
	n, err := s.store.CompleteHost(r.Context(), host)
	if err != nil {
		s.logger.Error("skip domain failed", "host", host, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.setCurrentHost("")
	s.logger.Info("skipped domain", "host", host, "urls", n)
	writeMessage(w, http.StatusOK, fmt.Sprintf("Skipped domain %s", host))
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"domains": s.blacklist.Patterns()})
}

func (s *Server) handleCheckDomain(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeMessage(w, http.StatusBadRequest, "Domain is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blacklisted": s.blacklist.Match(domain)})
}

type domainRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleBlacklistDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeMessage(w, http.StatusBadRequest, "Domain is required")
		return
	}

	// The in-memory set updates first so every later submission and lease
	// sees the veto; the purge rides the ordered write queue behind it.
	s.blacklist.Add(req.Domain)
	pattern := req.Domain
	err := s.writer.Enqueue(r.Context(), writer.Blacklist{
		Pattern: pattern,
		Match:   func(host string) bool { return policy.MatchPattern(pattern, host) },
	})
	if err != nil {
		s.logger.Error("blacklist enqueue failed", "domain", req.Domain, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Domain %s blacklisted", req.Domain))
}

func (s *Server) handleUnblacklistDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeMessage(w, http.StatusBadRequest, "Domain is required")
		return
	}
	if !s.blacklist.Remove(req.Domain) {
		writeMessage(w, http.StatusOK, fmt.Sprintf("Domain %s not in blacklist", req.Domain))
		return
	}
	if err := s.writer.Enqueue(r.Context(), writer.Unblacklist{Pattern: req.Domain}); err != nil {
		s.logger.Error("unblacklist enqueue failed", "domain", req.Domain, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Domain %s unblacklisted", req.Domain))
}

func (s *Server) handleClearURLs(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeMessage(w, http.StatusBadRequest, "Domain is required")
		return
	}
	pattern := req.Domain
	n, err := s.store.DeleteQueueWhere(r.Context(), func(host string) bool {
		return policy.MatchPattern(pattern, host)
	})
	if err != nil {
		s.logger.Error("clear urls failed", "domain", req.Domain, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("cleared queue urls", "domain", req.Domain, "rows", n)
	writeMessage(w, http.StatusOK, fmt.Sprintf("Cleared %d URLs for domain %s", n, req.Domain))
}
