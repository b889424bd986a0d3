//go:build integration

package test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/crawl"
	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/fetch"
	"github.com/FranksOps/trawl/internal/frontier"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/store/sqlite"
	"github.com/FranksOps/trawl/internal/writer"
)

// newSite builds a small three-page site with a robots.txt that fences off
// /priv and a duplicate page reachable under two spellings of one path.
func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /priv\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
The home page talks about many interesting things at length.
<a href="/articles">articles</a>
<a href="/articles/">articles with slash</a>
<a href="/priv/secret">secret</a>
</body></html>`)
	})
	article := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Articles</title></head><body>
An identical listing of articles lives at both path spellings.
</body></html>`)
	}
	mux.HandleFunc("/articles", article)
	mux.HandleFunc("/articles/", article)
	mux.HandleFunc("/priv/secret", func(w http.ResponseWriter, r *http.Request) {
		t.Error("robots-fenced URL was fetched")
	})
	return httptest.NewServer(mux)
}

func TestIntegration_CrawlHonorsPolicyAndDedup(t *testing.T) {
	ts := newSite(t)
	defer ts.Close()

	ctx := context.Background()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	w := writer.New(st, dedupe.New(st, nil), 256, nil)
	w.Start(ctx)

	fr := frontier.New(st, w, nil)
	if err := fr.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fr.SeedIfEmpty(ctx, []string{ts.URL + "/"}); err != nil {
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
	defer fetcher.Stop()

	gate := policy.NewGate(policy.GateConfig{
		MaxDepth:      2,
		UserAgent:     "trawl-test/1.0",
		RespectRobots: true,
		Robots:        policy.NewRobotsAuditor(fetcher, nil),
	}, nil)

	crawler := crawl.New(crawl.Config{Threads: 2, MaxDepth: 2, MaxTags: 100},
		fetcher, gate, fr, w, nil)

	summary, err := crawler.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	w.Close()
	if err := w.Wait(10 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// The pending set drains once the seed and its links are handled.
	if n, _ := st.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want drained", n)
	}

	// /articles and /articles/ share a normalized path and identical
	// content: exactly one survives as a page.
	hashes, _ := st.PageHashes(ctx)
	articlePages := 0
	for _, h := range hashes {
		if h.URL == ts.URL+"/articles" || h.URL == ts.URL+"/articles/" {
			articlePages++
		}
	}
	if articlePages != 1 {
		t.Errorf("article pages = %d, want exactly 1 (near-duplicate dropped)", articlePages)
	}

	// The robots veto shows up as a policy drop, not a fetch.
	if summary.DropReasons[policy.DropRobots] == 0 {
		t.Errorf("drop reasons = %v, want a robots drop", summary.DropReasons)
	}

	// Idempotence: a second run over the same stable site changes nothing.
	w2 := writer.New(st, dedupe.New(st, nil), 256, nil)
	w2.Start(ctx)
	fr2 := frontier.New(st, w2, nil)
	if err := fr2.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fr2.SeedIfEmpty(ctx, []string{ts.URL + "/"}); err != nil {
		t.Fatal(err)
	}
	crawler2 := crawl.New(crawl.Config{Threads: 2, MaxDepth: 2, MaxTags: 100},
		fetcher, gate, fr2, w2, nil)
	if _, err := crawler2.Run(ctx); err != nil {
		t.Fatal(err)
	}
	w2.Close()
	if err := w2.Wait(10 * time.Second); err != nil {
		t.Fatal(err)
	}

	visited, _ := st.VisitedURLs(ctx)
	hashes2, _ := st.PageHashes(ctx)
	if len(hashes2) != len(hashes) {
		t.Errorf("second run changed page count: %d -> %d", len(hashes), len(hashes2))
	}
	for _, h := range hashes2 {
		found := false
		for _, prev := range hashes {
			if prev.URL == h.URL && prev.ContentHash == h.ContentHash {
				found = true
			}
		}
		if !found {
			t.Errorf("content hash drifted for %s", h.URL)
		}
	}
	if len(visited) == 0 {
		t.Error("visited set empty after two runs")
	}
}
