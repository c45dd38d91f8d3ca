package instagram

import (
	"fmt"
	"math"
	"strings"
)

// Media is the resolved metadata bundle for one playable video. It is built
// fresh per request and never persisted by this package.
type Media struct {
	PK           int64   `json:"pk"`
	Code         string  `json:"code"`
	VideoURL     string  `json:"video_url"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Duration     float64 `json:"video_duration"`
	ViewCount    int64   `json:"view_count"`
	PlayCount    int64   `json:"play_count"`
	LikeCount    int64   `json:"like_count"`
	CommentCount int64   `json:"comment_count"`
	MimeType     string  `json:"mime_type"`
}

// shortcodeAlphabet is the URL-safe base64 alphabet Instagram uses to encode
// media primary keys into shortcodes.
const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// maxShortcodePKChars bounds the decoded portion: codes longer than 11
// characters carry extra private-account suffix data beyond the pk.
const maxShortcodePKChars = 11

// MediaPKFromCode decodes a shortcode into the numeric media primary key.
// Pure and deterministic; no network access.
func MediaPKFromCode(code string) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, fmt.Errorf("instagram: empty shortcode")
	}
	if len(code) > maxShortcodePKChars {
		code = code[:maxShortcodePKChars]
	}
	var pk int64
	for _, r := range code {
		idx := strings.IndexRune(shortcodeAlphabet, r)
		if idx < 0 {
			return 0, fmt.Errorf("instagram: invalid shortcode character %q in %q", r, code)
		}
		// An 11-character code can carry up to 66 bits.
		if pk > math.MaxInt64>>6 {
			return 0, fmt.Errorf("instagram: shortcode %q overflows media id", code)
		}
		pk = pk*64 + int64(idx)
	}
	return pk, nil
}
