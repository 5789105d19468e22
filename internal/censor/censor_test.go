package censor

import (
	"strings"
	"testing"
)

func TestApply(t *testing.T) {
	t.Parallel()

	c := New([]string{"darn", " Heck ", "", "a.b"})
	cases := []struct {
		in   string
		want string
	}{
		{"well darn it", "well **** it"},
		{"DARN!", "****!"},
		{"darned good", "darned good"},
		{"what the heck, heck", "what the ****, ****"},
		{"a.b and axb", "*** and axb"},
		{"clean", "clean"},
	}
	for _, tc := range cases {
		if got := c.Apply(tc.in); got != tc.want {
			t.Fatalf("Apply(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d", c.Len())
	}
}

func TestApplyNeverLeaksWord(t *testing.T) {
	t.Parallel()

	words := []string{"frak", "gorram", "smeg"}
	c := New(words)
	for _, w := range words {
		for _, in := range []string{w, strings.ToUpper(w), "x " + w + " y", w + "," + w} {
			out := c.Apply(in)
			if strings.Contains(strings.ToLower(out), w) {
				t.Fatalf("word %q survived in %q", w, out)
			}
			if len(out) != len(in) {
				t.Fatalf("length changed: %q -> %q", in, out)
			}
		}
	}
}

func TestNilCensor(t *testing.T) {
	t.Parallel()

	var c *Censor
	if got := c.Apply("darn"); got != "darn" {
		t.Fatalf("got %q", got)
	}
}
