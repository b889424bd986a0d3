package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/FranksOps/trawl/internal/frontier"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/store/sqlite"
	"github.com/FranksOps/trawl/internal/writer"
)

type harness struct {
	store   store.Store
	writer  *writer.Writer
	crawler *Crawler
}

func newHarness(t *testing.T, seeds []string, gateCfg policy.GateConfig) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	w := writer.New(st, dedupe.New(st, nil), 256, nil)
	w.Start(ctx)

	fr := frontier.New(st, w, nil)
	if err := fr.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fr.SeedIfEmpty(ctx, seeds); err != nil {
		t.Fatal(err)
	}

	fetcher, err := fetch.New(fetch.Config{
		UserAgent:   "trawl-test/1.0",
		Timeout:     5 * time.Second,
		DomainDelay: time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fetcher.Stop)

	if gateCfg.UserAgent == "" {
		gateCfg.UserAgent = "trawl-test/1.0"
	}
	if gateCfg.MaxDepth == 0 {
		gateCfg.MaxDepth = 5
	}
	if gateCfg.RespectRobots && gateCfg.Robots == nil {
		gateCfg.Robots = policy.NewRobotsAuditor(fetcher, nil)
	}
	gate := policy.NewGate(gateCfg, nil)

	crawler := New(Config{Threads: 2, MaxDepth: gateCfg.MaxDepth, MaxTags: 100},
		fetcher, gate, fr, w, nil)
	return &harness{store: st, writer: w, crawler: crawler}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	if _, err := h.crawler.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.writer.Close()
	if err := h.writer.Wait(10 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

// Seeds are fetched once each, their first-depth links follow, and the
// pending set drains completely.
func TestCrawler_BreadthFirstDrain(t *testing.T) {
	var rootHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			rootHits.Add(1)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Root</title></head>
<body>Welcome to the root page with some text.
<a href="/child">child</a></body></html>`))
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Child</title></head><body>A child page.</body></html>`))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t, []string{ts.URL + "/"}, policy.GateConfig{MaxDepth: 1})
	h.run(t)

	ctx := context.Background()
	if n, _ := h.store.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want drained", n)
	}
	visited, _ := h.store.VisitedURLs(ctx)
	found := make(map[string]bool)
	for _, u := range visited {
		found[u] = true
	}
	if !found[ts.URL+"/"] || !found[ts.URL+"/child"] {
		t.Errorf("visited = %v", visited)
	}
	if got := rootHits.Load(); got != 1 {
		t.Errorf("root fetched %d times, want exactly once", got)
	}

	hashes, _ := h.store.PageHashes(ctx)
	if len(hashes) != 2 {
		t.Errorf("pages = %d, want 2", len(hashes))
	}
}

// A robots.txt disallow keeps the URL out of visited and writes no page.
func TestCrawler_RobotsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /priv\n"))
	})
	mux.HandleFunc("/priv/a", func(w http.ResponseWriter, r *http.Request) {
		t.Error("disallowed URL was fetched")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t, []string{ts.URL + "/priv/a"}, policy.GateConfig{RespectRobots: true})
	h.run(t)

	ctx := context.Background()
	visited, _ := h.store.VisitedURLs(ctx)
	if len(visited) != 0 {
		t.Errorf("visited = %v, want empty", visited)
	}
	hashes, _ := h.store.PageHashes(ctx)
	if len(hashes) != 0 {
		t.Errorf("pages = %d, want none", len(hashes))
	}
	if n, _ := h.store.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want drained", n)
	}
}

// Two transient 500s then a 200: the page lands and the URL is visited.
func TestCrawler_RetriedFetchSucceeds(t *testing.T) {
	var attempts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Flaky</title></head><body>Finally up.</body></html>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t, []string{ts.URL + "/"}, policy.GateConfig{})
	h.run(t)

	ctx := context.Background()
	visited, _ := h.store.VisitedURLs(ctx)
	if len(visited) != 1 {
		t.Fatalf("visited = %v", visited)
	}
	hashes, _ := h.store.PageHashes(ctx)
	if len(hashes) != 1 {
		t.Errorf("pages = %d, want 1", len(hashes))
	}
}

// A hard 404 dequeues the URL without recording it as visited.
func TestCrawler_PermanentFailureNotVisited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t, []string{ts.URL + "/"}, policy.GateConfig{})
	h.run(t)

	ctx := context.Background()
	visited, _ := h.store.VisitedURLs(ctx)
	if len(visited) != 0 {
		t.Errorf("visited = %v, want empty", visited)
	}
	if n, _ := h.store.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want drained", n)
	}
}

// XML bodies contribute links but no page record.
func TestCrawler_XMLLinksOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	var tsURL string
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>` + tsURL + `/page</loc></url>
</urlset>`))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Linked</title></head><body>From the sitemap.</body></html>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	tsURL = ts.URL

	h := newHarness(t, []string{ts.URL + "/sitemap.xml"}, policy.GateConfig{})
	h.run(t)

	ctx := context.Background()
	hashes, _ := h.store.PageHashes(ctx)
	if len(hashes) != 1 || hashes[0].URL != ts.URL+"/page" {
		t.Errorf("pages = %+v, want only the linked page", hashes)
	}
}

// RequestStop finishes the current batch and stops dispatching new ones.
func TestCrawler_GracefulStop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/next">next</a></body></html>`))
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>leaf</body></html>`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t, []string{ts.URL + "/"}, policy.GateConfig{})
	h.crawler.RequestStop()
	summary, err := h.crawler.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h.writer.Close()
	if err := h.writer.Wait(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if summary.Fetched != 0 {
		t.Errorf("fetched = %d, want 0 after immediate stop", summary.Fetched)
	}
}
