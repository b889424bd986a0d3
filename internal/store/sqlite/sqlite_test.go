package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/FranksOps/trawl/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newTestStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestPendingLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.EnqueuePending(ctx, "http://a.test/", 0); err != nil {
		t.Fatal(err)
	}
	// insert-if-absent: re-enqueue is a no-op
	if err := st.EnqueuePending(ctx, "http://a.test/", 3); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.PendingCount(ctx); n != 1 {
		t.Fatalf("pending count = %d, want 1", n)
	}

	batch, err := st.PopPendingBatch(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 1 || batch[0].URL != "http://a.test/" || batch[0].Depth != 0 {
		t.Fatalf("batch = %+v", batch)
	}

	// pop is delete-and-return: the row is gone
	if n, _ := st.PendingCount(ctx); n != 0 {
		t.Fatalf("pending count after pop = %d, want 0", n)
	}
	if _, err := st.PopPendingBatch(ctx, 10); !errors.Is(err, store.ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestVisitedSet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ { // conflict-insensitive
		if err := st.RecordVisited(ctx, "http://a.test/"); err != nil {
			t.Fatal(err)
		}
	}
	urls, err := st.VisitedURLs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 {
		t.Fatalf("visited = %v", urls)
	}

	n, err := st.RemoveVisited(ctx, []string{"http://a.test/"})
	if err != nil || n != 1 {
		t.Fatalf("remove visited n=%d err=%v", n, err)
	}
}

func TestSavePage_UpsertKeepsNonEmptyColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.SavePage(ctx, store.Page{
		URL: "http://a.test/p", Title: "Original", Summary: "First summary",
		ContentHash: "42", Domain: "a.test",
		Tags: []string{"one", "two"}, Images: []string{"http://a.test/i.png"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Re-save with empty title: the stored title must survive.
	err = st.SavePage(ctx, store.Page{
		URL: "http://a.test/p", Title: "", Summary: "Second summary",
		ContentHash: "42", Domain: "a.test",
		Tags: []string{"two", "three"},
	})
	if err != nil {
		t.Fatal(err)
	}

	hashes, err := st.PageHashes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 || hashes[0].ContentHash != "42" {
		t.Fatalf("hashes = %+v", hashes)
	}
}

func TestRecordLanguage_Upserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.RecordLanguage(ctx, "http://a.test/", "unknown"); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordLanguage(ctx, "http://a.test/", "en"); err != nil {
		t.Fatal(err)
	}
}

func TestBlockedAndBlacklistedDomains(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.AddBlockedDomain(ctx, "tos.test"); err != nil {
		t.Fatal(err)
	}
	blocked, _ := st.BlockedDomains(ctx)
	if len(blocked) != 1 || blocked[0] != "tos.test" {
		t.Fatalf("blocked = %v", blocked)
	}

	if err := st.AddBlacklistedDomain(ctx, "*.bad.test"); err != nil {
		t.Fatal(err)
	}
	patterns, _ := st.BlacklistedDomains(ctx)
	if len(patterns) != 1 {
		t.Fatalf("patterns = %v", patterns)
	}
	if err := st.RemoveBlacklistedDomain(ctx, "*.bad.test"); err != nil {
		t.Fatal(err)
	}
	patterns, _ = st.BlacklistedDomains(ctx)
	if len(patterns) != 0 {
		t.Fatalf("patterns after remove = %v", patterns)
	}
}

func TestDeleteWhere(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.EnqueuePending(ctx, "http://bad.test/1", 0)
	_ = st.EnqueuePending(ctx, "http://ok.test/1", 0)
	_ = st.SavePage(ctx, store.Page{URL: "http://bad.test/p", Domain: "bad.test", Tags: []string{"tag"}})
	_ = st.SavePage(ctx, store.Page{URL: "http://ok.test/p", Domain: "ok.test"})

	match := func(h string) bool { return h == "bad.test" }
	if n, err := st.DeletePendingWhere(ctx, match); err != nil || n != 1 {
		t.Fatalf("pending n=%d err=%v", n, err)
	}
	if n, err := st.DeletePagesWhere(ctx, match); err != nil || n != 1 {
		t.Fatalf("pages n=%d err=%v", n, err)
	}
	if n, _ := st.PendingCount(ctx); n != 1 {
		t.Fatalf("pending remaining = %d", n)
	}
}

func TestQueueStateMachine(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"http://a.test/1", "http://a.test/2", "http://b.test/1"} {
		if err := st.EnqueueQueueURL(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	// Domain-coherent lease: only one host's rows move to processing.
	urls, host, err := st.LeaseHostBatch(ctx, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if host != "a.test" || len(urls) != 2 {
		t.Fatalf("lease = %v host=%s", urls, host)
	}

	counts, _ := st.QueueCounts(ctx)
	if counts.Pending != 1 || counts.Processing != 2 || counts.Completed != 0 {
		t.Fatalf("counts = %+v", counts)
	}

	if err := st.CompleteQueueURL(ctx, "http://a.test/1"); err != nil {
		t.Fatal(err)
	}
	if n, err := st.CompleteHost(ctx, "a.test"); err != nil || n != 1 {
		t.Fatalf("complete host n=%d err=%v", n, err)
	}

	counts, _ = st.QueueCounts(ctx)
	if counts.Processing != 0 || counts.Completed != 2 {
		t.Fatalf("counts = %+v", counts)
	}

	// Reset: processing -> pending, completed purged.
	if err := st.ResetQueue(ctx); err != nil {
		t.Fatal(err)
	}
	counts, _ = st.QueueCounts(ctx)
	if counts.Processing != 0 || counts.Completed != 0 || counts.Pending != 1 {
		t.Fatalf("counts after reset = %+v", counts)
	}
}

func TestLeaseHostBatch_SkipsBlacklistedHost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.EnqueueQueueURL(ctx, "http://bad.test/1")
	_ = st.EnqueueQueueURL(ctx, "http://ok.test/1")

	urls, host, err := st.LeaseHostBatch(ctx, 10, func(h string) bool { return h == "bad.test" })
	if err != nil {
		t.Fatal(err)
	}
	if host != "ok.test" || len(urls) != 1 {
		t.Fatalf("lease = %v host=%s", urls, host)
	}
}

func TestBlacklistQueueWhere(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_ = st.EnqueueQueueURL(ctx, "http://sub.bad.test/1")
	_ = st.EnqueueQueueURL(ctx, "http://ok.test/1")

	n, err := st.BlacklistQueueWhere(ctx, func(h string) bool { return h == "sub.bad.test" })
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	counts, _ := st.QueueCounts(ctx)
	if counts.Pending != 1 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestDedupeQueue_NoDuplicatesDeletesNothing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// The unique index on url ignores the repeated insert, so the sweep
	// finds no duplicates and deletes nothing.
	_ = st.EnqueueQueueURL(ctx, "http://a.test/1")
	_ = st.EnqueueQueueURL(ctx, "http://a.test/1")
	_ = st.EnqueueQueueURL(ctx, "http://a.test/2")

	n, err := st.DedupeQueue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("unexpected deletions: %d", n)
	}
	counts, _ := st.QueueCounts(ctx)
	if counts.Pending != 2 {
		t.Fatalf("counts = %+v", counts)
	}
}
