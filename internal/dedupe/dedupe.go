// Package dedupe detects near-duplicate pages by content fingerprint and
// keeps the coordinator queue free of repeated URLs.
package dedupe

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/FranksOps/trawl/internal/store"
	"github.com/FranksOps/trawl/pkg/simhash"
	"github.com/FranksOps/trawl/pkg/urlutil"
)

// hammingThreshold is the largest simhash distance still considered a
// near-duplicate.
const hammingThreshold = 3

// Fingerprint computes the stored form of a page's content hash: the
// decimal string of the 64-bit simhash over its summary text.
func Fingerprint(text string) string {
	return strconv.FormatUint(simhash.Hash(text), 10)
}

// Deduper classifies page candidates against the stored corpus.
type Deduper struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Deduper.
func New(st store.Store, logger *slog.Logger) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{store: st, logger: logger}
}

// IsNearDuplicate reports whether an existing page shares the candidate's
// normalized URL path (trailing slash removed) and sits within the Hamming
// threshold of its content hash. The candidate's own URL never blocks it;
// re-crawling a page is an upsert, not a duplicate.
func (d *Deduper) IsNearDuplicate(ctx context.Context, page store.Page) (bool, error) {
	if page.ContentHash == "" {
		return false, nil
	}
	newHash, err := strconv.ParseUint(page.ContentHash, 10, 64)
	if err != nil {
		return false, nil
	}

	path := urlutil.NormalizePath(page.URL)
	existing, err := d.store.PageHashes(ctx)
	if err != nil {
		return false, err
	}

	for _, e := range existing {
		if e.URL == page.URL {
			continue
		}
		if urlutil.NormalizePath(e.URL) != path {
			continue
		}
		oldHash, err := strconv.ParseUint(e.ContentHash, 10, 64)
		if err != nil {
			continue
		}
		if dist := simhash.Distance(oldHash, newHash); dist <= hammingThreshold {
			d.logger.Debug("near-duplicate detected",
				"url", page.URL, "existing", e.URL, "distance", dist)
			return true, nil
		}
	}
	return false, nil
}
