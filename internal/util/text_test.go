package util

import "testing"

func TestFormatClock(t *testing.T) {
	n := func(v int) *int { return &v }
	cases := []struct {
		in   *int
		want string
	}{{nil, "--:--"}, {n(0), "0:00"}, {n(185), "3:05"}, {n(3723), "1:02:03"}, {n(-4), "0:00"}}
	for _, tc := range cases {
		if got := FormatClock(tc.in); got != tc.want { t.Fatalf("FormatClock: got %q want %q", got, tc.want) }
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abc…" { t.Fatalf("got %q", got) }
	if got := Truncate("abc", 4); got != "abc" { t.Fatalf("got %q", got) }
	if got := Truncate("체스판", 2); got != "체…" { t.Fatalf("runes: %q", got) }
}
