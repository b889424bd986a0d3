package writer

import (
	"context"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/dedupe"
	"github.com/FranksOps/trawl/internal/policy"
	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func drain(t *testing.T, w *Writer) {
	t.Helper()
	w.Close()
	if err := w.Wait(5 * time.Second); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestWriter_AppliesRequestsInOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := New(st, nil, 16, nil)
	w.Start(ctx)

	reqs := []Request{
		EnqueuePending{URL: "http://a.test/next", Depth: 1},
		RecordVisited{URL: "http://a.test/"},
		DequeuePending{URL: "http://a.test/"},
		SavePage{Page: store.Page{
			URL: "http://a.test/", Title: "A", Summary: "text",
			ContentHash: "7", Domain: "a.test", Tags: []string{"one"},
		}},
		RecordLanguage{URL: "http://a.test/", Language: "en"},
	}
	for _, r := range reqs {
		if err := w.Enqueue(ctx, r); err != nil {
			t.Fatalf("enqueue %s: %v", r.kind(), err)
		}
	}
	drain(t, w)

	visited, _ := st.VisitedURLs(ctx)
	if len(visited) != 1 || visited[0] != "http://a.test/" {
		t.Errorf("visited = %v", visited)
	}
	if n, _ := st.PendingCount(ctx); n != 1 {
		t.Errorf("pending = %d, want the enqueued link only", n)
	}
	hashes, _ := st.PageHashes(ctx)
	if len(hashes) != 1 {
		t.Errorf("pages = %v", hashes)
	}
}

func TestWriter_EnqueueAfterCloseFails(t *testing.T) {
	st := newTestStore(t)
	w := New(st, nil, 16, nil)
	w.Start(context.Background())
	drain(t, w)

	if err := w.Enqueue(context.Background(), RecordVisited{URL: "http://a.test/"}); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestWriter_NearDuplicateDropsWholePage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := New(st, dedupe.New(st, nil), 16, nil)
	w.Start(ctx)

	summary := "The same content appears on two spellings of one path."
	hash := dedupe.Fingerprint(summary)
	first := SavePage{Page: store.Page{
		URL: "http://y.test/p", Summary: summary, ContentHash: hash, Domain: "y.test",
		Tags: []string{"tag1"},
	}, CheckDuplicate: true}
	second := SavePage{Page: store.Page{
		URL: "http://y.test/p/", Summary: summary, ContentHash: hash, Domain: "y.test",
		Tags: []string{"tag2"},
	}, CheckDuplicate: true}

	_ = w.Enqueue(ctx, first)
	_ = w.Enqueue(ctx, second)
	drain(t, w)

	hashes, _ := st.PageHashes(ctx)
	if len(hashes) != 1 || hashes[0].URL != "http://y.test/p" {
		t.Errorf("pages = %+v, want only the first", hashes)
	}
}

func TestWriter_SubmissionPathSkipsDuplicateCheck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := New(st, dedupe.New(st, nil), 16, nil)
	w.Start(ctx)

	summary := "Coordinator submissions rely on the sweep, not the scan."
	hash := dedupe.Fingerprint(summary)
	_ = w.Enqueue(ctx, SavePage{Page: store.Page{URL: "http://y.test/p", Summary: summary, ContentHash: hash}})
	_ = w.Enqueue(ctx, SavePage{Page: store.Page{URL: "http://y.test/p/", Summary: summary, ContentHash: hash}})
	drain(t, w)

	hashes, _ := st.PageHashes(ctx)
	if len(hashes) != 2 {
		t.Errorf("pages = %+v, want both", hashes)
	}
}

func TestWriter_BlacklistPurges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := New(st, nil, 16, nil)
	w.Start(ctx)

	_ = st.EnqueuePending(ctx, "http://sub.bad.test/x", 0)
	_ = st.EnqueueQueueURL(ctx, "http://sub.bad.test/x")
	_ = st.SavePage(ctx, store.Page{URL: "http://sub.bad.test/p", Domain: "sub.bad.test"})

	pattern := "*.bad.test"
	_ = w.Enqueue(ctx, Blacklist{
		Pattern: pattern,
		Match:   func(h string) bool { return policy.MatchPattern(pattern, h) },
	})
	drain(t, w)

	patterns, _ := st.BlacklistedDomains(ctx)
	if len(patterns) != 1 {
		t.Errorf("patterns = %v", patterns)
	}
	if n, _ := st.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d, want purged", n)
	}
	counts, _ := st.QueueCounts(ctx)
	if counts.Pending != 0 {
		t.Errorf("queue counts = %+v, want purged", counts)
	}
}

func TestWriter_ErrorDoesNotStopConsumer(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	w := New(st, failingDeduper{}, 16, nil)
	w.Start(ctx)

	// The failing dedup check loses this request...
	_ = w.Enqueue(ctx, SavePage{Page: store.Page{URL: "http://a.test/1", ContentHash: "1"}, CheckDuplicate: true})
	// ...but the writer keeps consuming.
	_ = w.Enqueue(ctx, RecordVisited{URL: "http://a.test/2"})
	drain(t, w)

	visited, _ := st.VisitedURLs(ctx)
	if len(visited) != 1 {
		t.Errorf("visited = %v", visited)
	}
}

type failingDeduper struct{}

func (failingDeduper) IsNearDuplicate(context.Context, store.Page) (bool, error) {
	return false, context.DeadlineExceeded
}
