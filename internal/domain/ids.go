package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewInviteCode returns a short random invite code.
func NewInviteCode() string {
	return "inv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
