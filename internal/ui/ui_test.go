package ui

import "testing"

func TestVisibleLen(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"plain", "hello", 5},
		{"empty", "", 0},
		{"color only", cPrimary + cReset, 0},
		{"colored text", cBold + "ab" + cReset + "cd", 4},
		{"background", cBgHeader + " X " + cReset, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := visibleLen(tt.in); got != tt.want {
				t.Errorf("visibleLen(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer string", 8, "a longe…"},
		{"anything", 0, ""},
		{"ab", 1, "…"},
		{"héllo wörld", 6, "héllo…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestCompactUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{999, "$999"},
		{1_000, "$1.0k"},
		{45_300, "$45.3k"},
		{2_500_000, "$2.5M"},
		{-1_200, "-$1.2k"},
	}
	for _, tt := range tests {
		if got := compactUSD(tt.in); got != tt.want {
			t.Errorf("compactUSD(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
