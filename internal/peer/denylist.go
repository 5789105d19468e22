package peer

import (
	"strings"

	"github.com/koltyakov/fedchat/internal/netutil"
)

// DenyList rejects peers whose address or host contains any entry.
type DenyList struct {
	entries []string
}

// NewDenyList builds a deny-list from raw entries. Blank entries are
// dropped and matching is case-insensitive.
func NewDenyList(entries []string) DenyList {
	d := DenyList{}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			d.entries = append(d.entries, e)
		}
	}
	return d
}

// Len reports the number of entries.
func (d DenyList) Len() int { return len(d.entries) }

// Match reports the first entry contained in any candidate's normalized
// address or host.
func (d DenyList) Match(candidates ...string) (string, bool) {
	for _, c := range candidates {
		for _, form := range []string{netutil.NormalizeAddress(c), netutil.NormalizeHost(c)} {
			if form == "" {
				continue
			}
			for _, e := range d.entries {
				if strings.Contains(form, e) {
					return e, true
				}
			}
		}
	}
	return "", false
}
