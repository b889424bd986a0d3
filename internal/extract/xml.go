package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/FranksOps/trawl/pkg/urlutil"
	"github.com/PuerkitoBio/goquery"
	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

// xmlSniffLimit bounds how much of the body the XML check inspects.
const xmlSniffLimit = 1024

// IsXML reports whether the body looks like an XML document (feed, sitemap,
// or explicit XML prolog/doctype) rather than HTML.
func IsXML(body []byte) bool {
	head := body
	if len(head) > xmlSniffLimit {
		head = head[:xmlSniffLimit]
	}
	s := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(s, "<?xml") ||
		strings.Contains(s, "<rss") ||
		strings.Contains(s, "<sitemap") ||
		strings.Contains(s, "<!doctype xml")
}

// xmlLinks harvests crawlable links from an XML body. Sitemap <loc> entries
// are preferred; a sitemap index contributes its nested sitemap URLs. Any
// anchor elements a feed happens to carry are collected as well.
func xmlLinks(base *url.URL, body []byte) []string {
	seen := make(map[string]struct{})
	var links []string
	add := func(raw string) {
		link := cleanLink(base, raw)
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	_ = sitemap.Parse(bytes.NewReader(body), func(e sitemap.Entry) error {
		add(e.GetLocation())
		return nil
	})
	_ = sitemap.ParseIndex(bytes.NewReader(body), func(e sitemap.IndexEntry) error {
		add(e.GetLocation())
		return nil
	})

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				add(href)
			}
		})
	}

	// Ensure every collected link still passes the scheme filter.
	filtered := links[:0]
	for _, l := range links {
		if urlutil.IsHTTP(l) {
			filtered = append(filtered, l)
		}
	}
	return filtered
}
