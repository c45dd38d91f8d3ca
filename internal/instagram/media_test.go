package instagram

import "testing"

func TestMediaPKFromCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want int64
	}{
		{"B", 1},
		{"BB", 65},
		{"Q", 16},
		// 'C' = 2, 'l' = 37: 2*64 + 37.
		{"Cl", 165},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.code, func(t *testing.T) {
			t.Parallel()
			got, err := MediaPKFromCode(tc.code)
			if err != nil {
				t.Fatalf("MediaPKFromCode(%q) error = %v", tc.code, err)
			}
			if got != tc.want {
				t.Fatalf("MediaPKFromCode(%q) = %d, want %d", tc.code, got, tc.want)
			}
		})
	}
}

func TestMediaPKFromCodeDeterministic(t *testing.T) {
	t.Parallel()

	first, err := MediaPKFromCode("ClOf_Got5wx")
	if err != nil {
		t.Fatalf("MediaPKFromCode() error = %v", err)
	}
	second, err := MediaPKFromCode("ClOf_Got5wx")
	if err != nil {
		t.Fatalf("MediaPKFromCode() error = %v", err)
	}
	if first != second {
		t.Fatalf("MediaPKFromCode() not deterministic: %d != %d", first, second)
	}
	if first <= 0 {
		t.Fatalf("MediaPKFromCode() = %d, want positive pk", first)
	}
}

func TestMediaPKFromCodeTruncatesLongCodes(t *testing.T) {
	t.Parallel()

	base, err := MediaPKFromCode("ClOf_Got5wx")
	if err != nil {
		t.Fatalf("MediaPKFromCode() error = %v", err)
	}
	// Private-account codes append suffix data after the pk portion.
	long, err := MediaPKFromCode("ClOf_Got5wxSUFFIXDATA")
	if err != nil {
		t.Fatalf("MediaPKFromCode() error = %v", err)
	}
	if base != long {
		t.Fatalf("long code pk = %d, want %d", long, base)
	}
}

func TestMediaPKFromCodeRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, code := range []string{"", "  ", "abc!", "a b"} {
		if _, err := MediaPKFromCode(code); err == nil {
			t.Fatalf("MediaPKFromCode(%q) expected error", code)
		}
	}
}

func TestMediaPKFromCodeRejectsOverflow(t *testing.T) {
	t.Parallel()

	// Eleven '_' digits decode to 64^11-1, past the int64 range.
	for _, code := range []string{"___________", "zzzzzzzzzzz"} {
		if _, err := MediaPKFromCode(code); err == nil {
			t.Fatalf("MediaPKFromCode(%q) expected overflow error", code)
		}
	}

	// Ten digits can never overflow.
	if _, err := MediaPKFromCode("__________"); err != nil {
		t.Fatalf("MediaPKFromCode() error = %v", err)
	}
}
