package broadcast

import (
	"regexp"
	"strings"
)

// Tags Telegram accepts in HTML parse mode. Everything else is stripped.
var allowedTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true,
	"u": true, "ins": true, "s": true, "strike": true,
	"del": true, "code": true, "pre": true, "a": true,
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// SanitizeHTML strips HTML tags outside Telegram's allow-list. Tag contents
// are preserved; only the disallowed tags themselves are removed.
func SanitizeHTML(html string) string {
	if html == "" {
		return html
	}

	return tagPattern.ReplaceAllStringFunc(html, func(tag string) string {
		name := strings.ToLower(strings.TrimLeft(strings.Trim(tag, "<>"), "/"))
		if idx := strings.IndexAny(name, " \t\n"); idx != -1 {
			name = name[:idx]
		}
		if allowedTags[name] {
			return tag
		}
		return ""
	})
}
