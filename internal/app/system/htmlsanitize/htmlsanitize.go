// internal/app/system/htmlsanitize/htmlsanitize.go
package htmlsanitize

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText strips all markup from user-supplied display text such as
// account, institute and group names. Entities are decoded afterward so
// "R&D" round-trips unchanged.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(strict.Sanitize(s))
}
