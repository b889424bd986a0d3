package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball"
)

// tokenPattern matches the alphanumeric tokens considered for tags.
var tokenPattern = regexp.MustCompile(`\b[a-z0-9]{4,20}\b`)

// tagStopwords are tokens too generic to ever be useful tags.
var tagStopwords = map[string]struct{}{
	"http": {}, "https": {}, "index": {}, "about": {}, "home": {}, "search": {},
	"terms": {}, "title": {}, "www": {}, "html": {}, "com": {}, "page": {}, "site": {},
}

// GenerateTags produces frequency-ranked tags from the page title, visible
// text, and URL. Inflected variants pool their counts under a common stem
// and the most frequent surface form represents the group. At most maxTags
// tags are returned; fewer when the page has little text.
func GenerateTags(title, text, pageURL string, maxTags int) []string {
	combined := strings.ToLower(title + " " + text + " " + pageURL)
	tokens := tokenPattern.FindAllString(combined, -1)

	type group struct {
		count    int
		surfaces map[string]int
		first    int
	}
	groups := make(map[string]*group)
	order := 0
	for _, tok := range tokens {
		if _, stop := tagStopwords[tok]; stop {
			continue
		}
		stem, err := snowball.Stem(tok, "english", false)
		if err != nil || stem == "" {
			stem = tok
		}
		g, ok := groups[stem]
		if !ok {
			g = &group{surfaces: make(map[string]int), first: order}
			groups[stem] = g
			order++
		}
		g.count++
		g.surfaces[tok]++
	}

	ranked := make([]*group, 0, len(groups))
	for _, g := range groups {
		ranked = append(ranked, g)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})

	tags := make([]string, 0, maxTags)
	for _, g := range ranked {
		if len(tags) >= maxTags {
			break
		}
		tags = append(tags, topSurface(g.surfaces))
	}
	return tags
}

// topSurface picks the most frequent surface form of a stem group,
// preferring the shorter form on ties.
func topSurface(surfaces map[string]int) string {
	best := ""
	bestCount := -1
	for s, c := range surfaces {
		if c > bestCount || (c == bestCount && (best == "" || len(s) < len(best) || (len(s) == len(best) && s < best))) {
			best = s
			bestCount = c
		}
	}
	return best
}
