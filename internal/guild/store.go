// Package guild keeps guild membership, channels, invites and channel
// message logs. A Store is owned by the event loop and is not safe for
// concurrent use.
package guild

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koltyakov/fedchat/internal/domain"
)

// Store holds every guild hosted by this instance.
type Store struct {
	guilds  map[string]*domain.Guild
	invites map[string]string // code -> guild id

	newID   func(prefix string) string
	newCode func() string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		guilds:  make(map[string]*domain.Guild),
		invites: make(map[string]string),
		newID:   domain.NewID,
		newCode: domain.NewInviteCode,
	}
}

// Restore replaces the store contents with previously persisted guilds.
func (s *Store) Restore(guilds []*domain.Guild) {
	s.guilds = make(map[string]*domain.Guild, len(guilds))
	s.invites = make(map[string]string)
	for _, g := range guilds {
		if g == nil || g.ID == "" {
			continue
		}
		if g.Invites == nil {
			g.Invites = make(map[string]*domain.Invite)
		}
		if !g.IsMember(g.OwnerFKey) {
			g.Members = append(g.Members, g.OwnerFKey)
		}
		for _, ch := range g.Channels {
			if len(ch.Messages) > domain.ChannelLogLimit {
				ch.Messages = slices.Clone(ch.Messages[len(ch.Messages)-domain.ChannelLogLimit:])
			}
		}
		s.guilds[g.ID] = g
		for code := range g.Invites {
			s.invites[code] = g.ID
		}
	}
}

// Get returns the guild with the given id.
func (s *Store) Get(id string) (*domain.Guild, bool) {
	g, ok := s.guilds[id]
	return g, ok
}

// Len reports the number of guilds.
func (s *Store) Len() int { return len(s.guilds) }

// GuildsFor returns the guilds fkey belongs to, oldest first.
func (s *Store) GuildsFor(fkey string) []*domain.Guild {
	out := make([]*domain.Guild, 0)
	for _, g := range s.guilds {
		if g.IsMember(fkey) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Guild) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// CreateGuild creates a guild owned by owner with a default text channel.
func (s *Store) CreateGuild(owner, name string, now time.Time) (*domain.Guild, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < domain.MinGuildNameLen {
		return nil, domain.Invalid("createGuild", "guild name must be at least 3 characters")
	}
	g := &domain.Guild{
		ID:        s.newID("guild"),
		Name:      name,
		OwnerFKey: owner,
		Members:   []string{owner},
		Channels: []*domain.Channel{{
			ID:       s.newID("channel"),
			Name:     domain.DefaultChannelName,
			Type:     domain.ChannelTypeText,
			Messages: []domain.GuildMessage{},
		}},
		Invites:   make(map[string]*domain.Invite),
		CreatedAt: now,
	}
	s.guilds[g.ID] = g
	return g, nil
}

// CreateChannel adds a text channel. Only the owner may do this and names
// are unique case-insensitively within the guild.
func (s *Store) CreateChannel(guildID, name, actor string) (*domain.Guild, *domain.Channel, error) {
	g, err := s.owned("createChannel", guildID, actor)
	if err != nil {
		return nil, nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, domain.Invalid("createChannel", "channel name must be at least 1 character")
	}
	for _, ch := range g.Channels {
		if strings.EqualFold(ch.Name, name) {
			return nil, nil, domain.Invalid("createChannel", "channel '"+name+"' already exists in this guild")
		}
	}
	ch := &domain.Channel{
		ID:       s.newID("channel"),
		Name:     name,
		Type:     domain.ChannelTypeText,
		Messages: []domain.GuildMessage{},
	}
	g.Channels = append(g.Channels, ch)
	return g, ch, nil
}

// GenerateInvite creates a single-use invite. Only the owner may do this.
func (s *Store) GenerateInvite(guildID, actor string, now time.Time) (*domain.Invite, error) {
	g, err := s.owned("generateInvite", guildID, actor)
	if err != nil {
		return nil, err
	}
	code := s.newCode()
	for _, taken := s.invites[code]; taken; _, taken = s.invites[code] {
		code = s.newCode()
	}
	inv := &domain.Invite{
		Code:      code,
		CreatedBy: actor,
		CreatedAt: now,
		UsesLeft:  domain.InviteUses,
	}
	g.Invites[code] = inv
	s.invites[code] = g.ID
	return inv, nil
}

// RedeemInvite adds actor to the invite's guild. If actor is already a
// member the guild is returned with [domain.ErrAlreadyMember] and the invite
// is left untouched.
func (s *Store) RedeemInvite(code, actor string) (*domain.Guild, error) {
	code = strings.TrimSpace(code)
	g, ok := s.guilds[s.invites[code]]
	if !ok {
		return nil, &domain.OpError{Op: "redeemInvite", Target: code, Err: domain.ErrInviteInvalid}
	}
	inv, ok := g.Invites[code]
	if !ok || inv.UsesLeft <= 0 {
		s.dropInvite(g, code)
		return nil, &domain.OpError{Op: "redeemInvite", Target: code, Err: domain.ErrInviteInvalid}
	}
	if g.IsMember(actor) {
		return g, domain.ErrAlreadyMember
	}
	g.Members = append(g.Members, actor)
	inv.UsesLeft--
	if inv.UsesLeft <= 0 {
		s.dropInvite(g, code)
	}
	return g, nil
}

// PostMessage appends msg to its channel after checking that the guild
// and channel exist and that the author is a member. Text must already be
// censored.
func (s *Store) PostMessage(msg domain.GuildMessage) (*domain.Guild, error) {
	g, ok := s.guilds[msg.GuildID]
	if !ok {
		return nil, domain.Invalid("sendGuildChat", "guild not found")
	}
	ch := g.Channel(msg.ChannelID)
	if ch == nil {
		return nil, domain.Invalid("sendGuildChat", "channel not found")
	}
	if !g.IsMember(msg.AuthorFKey) {
		return nil, &domain.OpError{Op: "sendGuildChat", Target: g.ID, Err: domain.ErrNotAMember}
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, domain.Invalid("sendGuildChat", "message cannot be empty")
	}
	ch.Messages = domain.AppendBounded(ch.Messages, msg, domain.ChannelLogLimit)
	return g, nil
}

// AppendFederated stores a message flooded by a peer. It returns the guild
// when the guild and channel exist here and the message is new.
func (s *Store) AppendFederated(msg domain.GuildMessage) (*domain.Guild, bool) {
	g, ok := s.guilds[msg.GuildID]
	if !ok {
		return nil, false
	}
	ch := g.Channel(msg.ChannelID)
	if ch == nil {
		return nil, false
	}
	if slices.ContainsFunc(ch.Messages, func(m domain.GuildMessage) bool { return m.ID == msg.ID }) {
		return nil, false
	}
	ch.Messages = domain.AppendBounded(ch.Messages, msg, domain.ChannelLogLimit)
	return g, true
}

func (s *Store) owned(op, guildID, actor string) (*domain.Guild, error) {
	g, ok := s.guilds[guildID]
	if !ok {
		return nil, domain.Invalid(op, "guild not found")
	}
	if g.OwnerFKey != actor {
		return nil, &domain.OpError{Op: op, Target: guildID, Err: domain.ErrNotOwner}
	}
	return g, nil
}

func (s *Store) dropInvite(g *domain.Guild, code string) {
	delete(g.Invites, code)
	delete(s.invites, code)
}
