// Package extract turns fetched response bodies into page records: title,
// summary, tags, images, outbound links, and language.
package extract

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/FranksOps/trawl/pkg/urlutil"
	"github.com/PuerkitoBio/goquery"
)

const (
	summaryLimit = 200
	maxImages    = 5
)

// Document is the extracted view of one response.
type Document struct {
	Title   string
	Summary string
	// Text is the whitespace-collapsed visible text, the input for tag
	// generation, language detection, and the content fingerprint.
	Text   string
	Images []string
	Links  []string
	// IsXML marks feeds/sitemaps: their links are enqueued but the
	// document itself is never persisted as a page.
	IsXML bool
}

// Parse extracts a Document from a response body. Non-HTML, non-XML
// responses still yield header-derived links (e.g. Location) so redirect
// targets are not lost. Parse degrades rather than fails: a malformed body
// produces a Document with defaults.
func Parse(baseURL string, body []byte, header http.Header) *Document {
	doc := &Document{}

	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	// Redirect targets advertised in headers count as links.
	if base != nil {
		if loc := header.Get("Location"); loc != "" {
			if link := cleanLink(base, loc); link != "" {
				doc.Links = append(doc.Links, link)
			}
		}
	}

	if IsXML(body) {
		doc.IsXML = true
		if base != nil {
			doc.Links = append(doc.Links, xmlLinks(base, body)...)
		}
		return doc
	}

	contentType := strings.ToLower(header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "html") && !strings.Contains(contentType, "xml") {
		doc.Title = hostTitle(baseURL)
		doc.Summary = "No content"
		return doc
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		doc.Title = hostTitle(baseURL)
		doc.Summary = "No content"
		return doc
	}

	doc.Title = title(parsed, baseURL)
	doc.Text = visibleText(parsed)
	doc.Summary = summarize(doc.Text)

	if base != nil {
		parsed.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, ok := s.Attr("src")
			if !ok {
				return true
			}
			if link := cleanLink(base, src); link != "" {
				doc.Images = append(doc.Images, link)
			}
			return len(doc.Images) < maxImages
		})

		seen := make(map[string]struct{})
		parsed.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			link := cleanLink(base, href)
			if link == "" {
				return
			}
			if _, dup := seen[link]; dup {
				return
			}
			seen[link] = struct{}{}
			doc.Links = append(doc.Links, link)
		})
	}

	return doc
}

func title(doc *goquery.Document, baseURL string) string {
	found := ""
	doc.Find("title").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := strings.TrimSpace(s.Text()); t != "" {
			found = t
			return false
		}
		return true
	})
	if found == "" {
		return hostTitle(baseURL)
	}
	return found
}

func hostTitle(baseURL string) string {
	if h := urlutil.Host(baseURL); h != "" {
		return h
	}
	return baseURL
}

// visibleText collapses the rendered text of the document, skipping script
// and style contents.
func visibleText(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(clone.Text()), " ")
}

func summarize(text string) string {
	if text == "" {
		return "No content"
	}
	if len(text) > summaryLimit {
		return text[:summaryLimit]
	}
	return text
}

// cleanLink resolves href against base and applies the scheme filter and
// length cap. It returns "" for anything unusable.
func cleanLink(base *url.URL, href string) string {
	resolved := urlutil.Resolve(base, href)
	if resolved == "" || !urlutil.IsHTTP(resolved) {
		return ""
	}
	return urlutil.Truncate(resolved)
}
