// Package domain defines the core data types shared across the fedchat
// router, stores, persistence and wire protocol layers.
package domain

import (
	"slices"
	"time"
)

// Log bounds. Appends past a bound evict the oldest entries first.
const (
	GlobalLogLimit  = 100
	ChannelLogLimit = 100
	DMLogLimit      = 200
)

// Guild defaults and constraints.
const (
	DefaultChannelName = "general"
	ChannelTypeText    = "text"
	MinGuildNameLen    = 3
	InviteUses         = 1
)

// MaxTextLen bounds chat, guild and DM text in runes.
const MaxTextLen = 2000

// ChatMessage is an entry in the instance-wide global chat log.
type ChatMessage struct {
	ID         string    `json:"id"`
	UserFKey   string    `json:"userFKey"`
	Username   string    `json:"username"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
}

// GuildMessage is an entry in a channel log.
type GuildMessage struct {
	ID         string    `json:"id"`
	GuildID    string    `json:"guildId"`
	ChannelID  string    `json:"channelId"`
	AuthorFKey string    `json:"authorFKey"`
	Username   string    `json:"username"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
}

// DirectMessage is an entry in a DM conversation.
type DirectMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	FromFKey       string    `json:"fromFKey"`
	FromUsername   string    `json:"fromUsername"`
	ToFKey         string    `json:"toFKey"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Channel is a named message stream inside a guild.
type Channel struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Messages []GuildMessage `json:"messages"`
}

// Invite grants guild membership to whoever redeems it.
type Invite struct {
	Code      string    `json:"code"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UsesLeft  int       `json:"usesLeft"`
}

// Guild is a named group with an owner, members, channels and pending
// invites. Guilds are never deleted.
type Guild struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	OwnerFKey string             `json:"ownerFKey"`
	Members   []string           `json:"members"`
	Channels  []*Channel         `json:"channels"`
	Invites   map[string]*Invite `json:"invites"`
	CreatedAt time.Time          `json:"createdAt"`
}

// IsMember reports whether fkey belongs to the guild.
func (g *Guild) IsMember(fkey string) bool {
	return slices.Contains(g.Members, fkey)
}

// Channel returns the channel with the given id, or nil.
func (g *Guild) Channel(id string) *Channel {
	for _, ch := range g.Channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

// DirectoryEntry is the presence directory's record for one fkey.
// LocalSessionID is non-empty iff the entry belongs to this instance.
type DirectoryEntry struct {
	FKey           string    `json:"fkey"`
	Username       string    `json:"username"`
	InstanceID     string    `json:"instanceId"`
	LastSeen       time.Time `json:"lastSeen"`
	LocalSessionID string    `json:"-"`
}

// IsLocal reports whether the entry is served by a session on this instance.
func (e DirectoryEntry) IsLocal() bool {
	return e.LocalSessionID != ""
}

// AppendBounded appends v to s and drops the oldest entries so that at most
// limit remain.
func AppendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = slices.Clone(s[len(s)-limit:])
	}
	return s
}
