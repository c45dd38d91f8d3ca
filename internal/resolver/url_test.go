package resolver

import "testing"

func TestShortcodeFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		code string
		ok   bool
	}{
		{"reel_with_query", "https://www.instagram.com/reel/ClOf_Got5wx/?igshid=MDJmNzVkMjY=", "ClOf_Got5wx", true},
		{"post", "https://instagram.com/p/CxyzAb12345/", "CxyzAb12345", true},
		{"reels_plural", "https://www.instagram.com/reels/ClOf_Got5wx", "ClOf_Got5wx", true},
		{"no_scheme", "instagram.com/reel/ClOf_Got5wx", "ClOf_Got5wx", true},
		{"no_www_no_slash", "https://instagram.com/reel/ClOf_Got5wx", "ClOf_Got5wx", true},
		{"surrounding_whitespace", "  https://www.instagram.com/p/ABC123/  ", "ABC123", true},
		{"uppercase_host", "HTTPS://WWW.INSTAGRAM.COM/REEL/ClOf_Got5wx", "ClOf_Got5wx", true},
		{"profile_url", "https://www.instagram.com/natgeo/", "", false},
		{"stories_url", "https://www.instagram.com/stories/natgeo/123/", "", false},
		{"youtube", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "", false},
		{"plain_text", "hello there", "", false},
		{"empty", "", "", false},
		{"bare_prefix", "https://www.instagram.com/reel/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, ok := ShortcodeFromURL(tt.raw)
			if ok != tt.ok || code != tt.code {
				t.Fatalf("ShortcodeFromURL(%q) = %q, %v; want %q, %v", tt.raw, code, ok, tt.code, tt.ok)
			}
		})
	}
}
