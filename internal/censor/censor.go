// Package censor masks blacklisted words in user-provided text.
package censor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Censor replaces whole-word, case-insensitive occurrences of its words
// with asterisks of the same rune length.
type Censor struct {
	patterns []*regexp.Regexp
}

// New compiles a censor for words. Blank entries are skipped.
func New(words []string) *Censor {
	c := &Censor{}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		c.patterns = append(c.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return c
}

// Apply returns text with every listed word masked. A nil Censor returns
// text unchanged.
func (c *Censor) Apply(text string) string {
	if c == nil {
		return text
	}
	for _, re := range c.patterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat("*", utf8.RuneCountInString(m))
		})
	}
	return text
}

// Len reports the number of distinct words.
func (c *Censor) Len() int {
	if c == nil {
		return 0
	}
	return len(c.patterns)
}
