package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxUsernameLen bounds usernames in runes.
const MaxUsernameLen = 32

// conversationSep joins the two fkeys of a DM conversation id. Usernames and
// instance ids never contain it.
const conversationSep = "|"

// FKey builds the federated key username@instanceID.
func FKey(username, instanceID string) string {
	return username + "@" + instanceID
}

// SplitFKey splits a federated key at its last '@'.
func SplitFKey(fkey string) (username, instanceID string, ok bool) {
	i := strings.LastIndexByte(fkey, '@')
	if i <= 0 || i == len(fkey)-1 {
		return "", "", false
	}
	return fkey[:i], fkey[i+1:], true
}

// InstanceOf returns the instance id portion of fkey, or "".
func InstanceOf(fkey string) string {
	_, inst, _ := SplitFKey(fkey)
	return inst
}

// DefaultInstanceID is the instance id used when none is configured.
func DefaultInstanceID(port int) string {
	return "instance_at_" + strconv.Itoa(port)
}

// NormalizeUsername trims s and validates it as a username.
func NormalizeUsername(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Invalid("setUsername", "username is required")
	}
	if utf8.RuneCountInString(s) > MaxUsernameLen {
		return "", Invalid("setUsername", fmt.Sprintf("username longer than %d characters", MaxUsernameLen))
	}
	if strings.ContainsAny(s, "@"+conversationSep) || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", Invalid("setUsername", "username must not contain '@', '|' or spaces")
	}
	return s, nil
}

// ValidInstanceID reports whether id can be used as an instance id.
func ValidInstanceID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "@"+conversationSep)
}

// ValidFKey reports whether fkey is a username and an instance id that would
// both pass validation on their home instance.
func ValidFKey(fkey string) bool {
	username, instanceID, ok := SplitFKey(fkey)
	if !ok || !ValidInstanceID(instanceID) {
		return false
	}
	name, err := NormalizeUsername(username)
	return err == nil && name == username
}

// ConversationID returns the order-independent id of the DM conversation
// between fkeys a and b.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return pair[0] + conversationSep + pair[1]
}

// ConversationMembers splits a conversation id into its two fkeys. It
// reports false unless id is exactly what ConversationID would produce.
func ConversationMembers(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, conversationSep)
	if !ok || a >= b {
		return "", "", false
	}
	if !ValidFKey(a) || !ValidFKey(b) {
		return "", "", false
	}
	return a, b, true
}
