package keyword

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// normalize folds OCR output and keywords into one comparable form:
// NFKC (so full-width and ligature glyphs match their ASCII forms), then
// Unicode lower-casing.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// cases.Caser is stateful and must not be shared across goroutines
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}
