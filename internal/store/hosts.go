package store

import "github.com/FranksOps/trawl/pkg/urlutil"

// FilterByHost returns the URLs whose host satisfies match.
func FilterByHost(urls []string, match func(host string) bool) []string {
	var hit []string
	for _, u := range urls {
		if h := urlutil.Host(u); h != "" && match(h) {
			hit = append(hit, u)
		}
	}
	return hit
}

// PickHostBatch chooses the host of the first candidate not rejected by skip
// and returns up to limit candidates sharing that host, preserving order.
// Host is "" when no candidate survives.
func PickHostBatch(candidates []string, limit int, skip func(host string) bool) ([]string, string) {
	var host string
	for _, u := range candidates {
		h := urlutil.Host(u)
		if h == "" || (skip != nil && skip(h)) {
			continue
		}
		host = h
		break
	}
	if host == "" {
		return nil, ""
	}

	var batch []string
	for _, u := range candidates {
		if urlutil.Host(u) != host {
			continue
		}
		batch = append(batch, u)
		if limit > 0 && len(batch) >= limit {
			break
		}
	}
	return batch, host
}
