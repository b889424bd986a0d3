package extract

import "github.com/abadojack/whatlanggo"

// DetectLanguage returns the ISO 639-1 code of the text's language, or
// "unknown" when the text is empty or detection is unreliable.
func DetectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "unknown"
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "unknown"
	}
	return code
}
