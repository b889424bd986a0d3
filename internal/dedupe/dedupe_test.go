package dedupe

import (
	"context"
	"testing"

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

func TestIsNearDuplicate_SamePathSameContent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := New(st, nil)

	summary := "This domain is for use in illustrative examples in documents."
	existing := store.Page{
		URL: "http://y.test/p", Summary: summary,
		ContentHash: Fingerprint(summary), Domain: "y.test",
	}
	if err := st.SavePage(ctx, existing); err != nil {
		t.Fatal(err)
	}

	// Same normalized path (trailing slash removed), identical summary:
	// distance 0 -> near-duplicate.
	candidate := store.Page{
		URL: "http://y.test/p/", Summary: summary,
		ContentHash: Fingerprint(summary), Domain: "y.test",
	}
	dup, err := d.IsNearDuplicate(ctx, candidate)
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("expected near-duplicate at distance 0")
	}
}

func TestIsNearDuplicate_DifferentPath(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := New(st, nil)

	summary := "Identical content either way."
	_ = st.SavePage(ctx, store.Page{
		URL: "http://y.test/p", Summary: summary, ContentHash: Fingerprint(summary),
	})

	dup, err := d.IsNearDuplicate(ctx, store.Page{
		URL: "http://y.test/other", Summary: summary, ContentHash: Fingerprint(summary),
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("different path must not count as duplicate")
	}
}

func TestIsNearDuplicate_SameURLIsUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := New(st, nil)

	summary := "Stable content."
	_ = st.SavePage(ctx, store.Page{
		URL: "http://y.test/p", Summary: summary, ContentHash: Fingerprint(summary),
	})

	dup, err := d.IsNearDuplicate(ctx, store.Page{
		URL: "http://y.test/p", Summary: summary, ContentHash: Fingerprint(summary),
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("re-crawl of the same URL is an upsert, not a duplicate")
	}
}

func TestIsNearDuplicate_NoHashNoVerdict(t *testing.T) {
	st := newTestStore(t)
	d := New(st, nil)

	dup, err := d.IsNearDuplicate(context.Background(), store.Page{URL: "http://y.test/p"})
	if err != nil || dup {
		t.Errorf("dup=%v err=%v, want false,nil", dup, err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	if Fingerprint("abc def") != Fingerprint("abc def") {
		t.Error("fingerprint not deterministic")
	}
	if Fingerprint("") != "0" {
		t.Errorf("empty fingerprint = %q, want 0", Fingerprint(""))
	}
}
