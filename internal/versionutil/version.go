// Package versionutil normalizes build version strings.
package versionutil

import "strings"

// Normalize prefixes release versions such as "1.4.0" with "v". Empty input
// becomes "dev"; commit hashes and already-prefixed values are kept.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "dev"
	case strings.HasPrefix(raw, "v"):
		return raw
	case looksLikeRelease(raw):
		return "v" + raw
	}
	return raw
}

// looksLikeRelease reports whether s starts with "<digits>.".
func looksLikeRelease(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && s[i] == '.'
}
