package scheduler

import (
	"testing"
	"time"
)

func TestParseDurationCases(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"500ms", 500 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"1h", time.Hour},
		{"500", 500 * time.Millisecond},
		{"3d", 3 * 24 * time.Hour},
		{"2w", 2 * 7 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := parseDuration(c.in)
		if err != nil {
			t.Errorf("parseDuration(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseDuration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDurationRejectsEmptyAndGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "10x", "ms"} {
		if _, err := parseDuration(in); err == nil {
			t.Errorf("parseDuration(%q) should have failed", in)
		}
	}
}
