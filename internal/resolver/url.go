package resolver

import (
	"regexp"
	"strings"
)

// mediaURLPattern matches post and reel permalinks. Scheme and the www
// subdomain are optional; trailing path segments and query strings are
// ignored.
var mediaURLPattern = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?instagram\.com/(?:p|reel|reels)/([A-Za-z0-9_-]+)`)

// ShortcodeFromURL extracts the media shortcode from an Instagram post or
// reel URL. Returns false for anything that is not such a URL.
func ShortcodeFromURL(raw string) (string, bool) {
	m := mediaURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", false
	}
	return m[1], true
}
