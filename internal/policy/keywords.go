package policy

import (
	"strings"
	"unicode"
)

// KeywordMatch records one forbidding keyword found in a terms-of-service
// page, with the sentence it appeared in as evidence for the log.
type KeywordMatch struct {
	Term     string
	Count    int
	Sentence string
}

// FindForbiddance scans content for the first keyword present
// (case-insensitive) and returns the match with its surrounding sentence.
// The second return is false when no keyword occurs.
func FindForbiddance(content string, keywords []string) (KeywordMatch, bool) {
	if len(content) == 0 || len(keywords) == 0 {
		return KeywordMatch{}, false
	}

	lowerContent := strings.ToLower(content)
	var sentences []sentenceData // built lazily, only when a keyword hits

	for _, term := range keywords {
		lowerTerm := strings.ToLower(term)
		count := strings.Count(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}
		if sentences == nil {
			sentences = splitIntoSentences(content)
		}
		match := KeywordMatch{Term: term, Count: count}
		for _, sd := range sentences {
			if strings.Contains(sd.lower, lowerTerm) {
				match.Sentence = sd.original
				break
			}
		}
		return match, true
	}
	return KeywordMatch{}, false
}

// sentenceData holds original and lowercase versions together
type sentenceData struct {
	original string
	lower    string
}

// splitIntoSentences naively splits text on '.', '!' or '?', preserving the
// delimiter, and returns both original and lowercase forms in one pass.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	// Estimate sentence count: roughly 1 sentence per 50 chars average
	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentenceData, 0, estimated)
	start := 0

	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			// Include the delimiter
			end := i + 1
			// Include following whitespace
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			orig := strings.TrimSpace(text[start:end])
			sentences = append(sentences, sentenceData{
				original: orig,
				lower:    strings.ToLower(orig),
			})
			start = end
		}
	}

	// Capture any trailing text
	if start < len(text) {
		orig := strings.TrimSpace(text[start:])
		sentences = append(sentences, sentenceData{
			original: orig,
			lower:    strings.ToLower(orig),
		})
	}

	return sentences
}
