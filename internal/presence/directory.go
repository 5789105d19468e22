// Package presence holds the per-instance directory of where each
// federated user currently lives.
package presence

import (
	"slices"
	"strings"
	"time"

	"github.com/koltyakov/fedchat/internal/domain"
)

// Directory maps fkeys to location metadata. It is owned by the event loop
// and is not safe for concurrent use.
type Directory struct {
	instanceID string
	entries    map[string]domain.DirectoryEntry
}

// New returns an empty directory for instanceID.
func New(instanceID string) *Directory {
	return &Directory{
		instanceID: instanceID,
		entries:    make(map[string]domain.DirectoryEntry),
	}
}

// InstanceID returns the instance that owns local entries.
func (d *Directory) InstanceID() string { return d.instanceID }

// SetLocal registers username on this instance, bound to sessionID, and
// returns its fkey. Any prior entry for the same fkey is replaced.
func (d *Directory) SetLocal(username, sessionID string, now time.Time) string {
	fkey := domain.FKey(username, d.instanceID)
	d.entries[fkey] = domain.DirectoryEntry{
		FKey:           fkey,
		Username:       username,
		InstanceID:     d.instanceID,
		LastSeen:       now,
		LocalSessionID: sessionID,
	}
	return fkey
}

// RemoveLocal deletes a local entry if it is still bound to sessionID.
func (d *Directory) RemoveLocal(fkey, sessionID string) bool {
	e, ok := d.entries[fkey]
	if !ok || e.LocalSessionID == "" || e.LocalSessionID != sessionID {
		return false
	}
	delete(d.entries, fkey)
	return true
}

// MergeRemote records entries announced by the peer instance from. Entries
// naming another instance, malformed fkeys, and entries that would shadow a
// local user are ignored. It reports whether the set of known users changed.
func (d *Directory) MergeRemote(from string, entries []RemoteEntry, now time.Time) bool {
	changed := false
	for _, in := range entries {
		if in.InstanceID != from || in.InstanceID == d.instanceID {
			continue
		}
		if !domain.ValidFKey(in.FKey) {
			continue
		}
		username, inst, _ := domain.SplitFKey(in.FKey)
		if inst != in.InstanceID {
			continue
		}
		cur, exists := d.entries[in.FKey]
		if exists && cur.IsLocal() {
			continue
		}
		if !exists || cur.InstanceID != in.InstanceID {
			changed = true
		}
		d.entries[in.FKey] = domain.DirectoryEntry{
			FKey:       in.FKey,
			Username:   username,
			InstanceID: in.InstanceID,
			LastSeen:   now,
		}
	}
	return changed
}

// RemoteEntry is one announced remote user.
type RemoteEntry struct {
	FKey       string
	InstanceID string
}

// Withdraw removes fkey when it belongs to the announcing instance.
func (d *Directory) Withdraw(from, fkey string) bool {
	e, ok := d.entries[fkey]
	if !ok || e.IsLocal() || e.InstanceID != from {
		return false
	}
	delete(d.entries, fkey)
	return true
}

// Lookup returns the entry for fkey.
func (d *Directory) Lookup(fkey string) (domain.DirectoryEntry, bool) {
	e, ok := d.entries[fkey]
	return e, ok
}

// FindByUsername resolves a bare username, preferring the local user and
// otherwise the remote entry with the smallest fkey.
func (d *Directory) FindByUsername(username string) (domain.DirectoryEntry, bool) {
	if e, ok := d.entries[domain.FKey(username, d.instanceID)]; ok {
		return e, true
	}
	var (
		best  domain.DirectoryEntry
		found bool
	)
	for _, e := range d.entries {
		if e.Username != username {
			continue
		}
		if !found || e.FKey < best.FKey {
			best, found = e, true
		}
	}
	return best, found
}

// RemoveByInstance purges every entry of instanceID and returns how many
// were removed. Local entries are never purged this way.
func (d *Directory) RemoveByInstance(instanceID string) int {
	if instanceID == d.instanceID {
		return 0
	}
	n := 0
	for fkey, e := range d.entries {
		if e.InstanceID == instanceID {
			delete(d.entries, fkey)
			n++
		}
	}
	return n
}

// PruneStale removes remote entries not refreshed within timeout.
func (d *Directory) PruneStale(now time.Time, timeout time.Duration) int {
	n := 0
	for fkey, e := range d.entries {
		if e.IsLocal() {
			continue
		}
		if now.Sub(e.LastSeen) > timeout {
			delete(d.entries, fkey)
			n++
		}
	}
	return n
}

// Snapshot returns every known entry ordered by fkey.
func (d *Directory) Snapshot() []domain.DirectoryEntry {
	out := make([]domain.DirectoryEntry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.DirectoryEntry) int {
		return strings.Compare(a.FKey, b.FKey)
	})
	return out
}

// LocalEntries returns the entries served by this instance.
func (d *Directory) LocalEntries() []domain.DirectoryEntry {
	out := make([]domain.DirectoryEntry, 0)
	for _, e := range d.Snapshot() {
		if e.IsLocal() {
			out = append(out, e)
		}
	}
	return out
}

// Counts reports local and remote entry totals.
func (d *Directory) Counts() (local, remote int) {
	for _, e := range d.entries {
		if e.IsLocal() {
			local++
		} else {
			remote++
		}
	}
	return local, remote
}
