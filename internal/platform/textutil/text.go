package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup from user-supplied text and collapses runs of whitespace.
// Entities produced by the sanitiser are decoded again so the result is safe to store as plain text.
func PlainText(value string) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// TitleCase capitalises each word, e.g. "bell pepper" becomes "Bell Pepper".
func TitleCase(value string) string {
	return cases.Title(language.English).String(strings.TrimSpace(value))
}

// Truncate limits value to max runes.
func Truncate(value string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
