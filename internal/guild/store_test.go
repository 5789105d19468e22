package guild

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	s := New()
	n := 0
	s.newID = func(prefix string) string {
		n++
		return fmt.Sprintf("%s_%d", prefix, n)
	}
	return s
}

func TestCreateGuildDefaults(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "  Test ", t0)
	require.NoError(t, err)
	assert.Equal(t, "Test", g.Name)
	assert.Equal(t, []string{"carol@A"}, g.Members)
	require.Len(t, g.Channels, 1)
	assert.Equal(t, domain.DefaultChannelName, g.Channels[0].Name)
	assert.Equal(t, domain.ChannelTypeText, g.Channels[0].Type)

	_, err = s.CreateGuild("carol@A", "ab", t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, s.Len())
}

func TestCreateChannelOwnerOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)
	g.Members = append(g.Members, "dave@A")

	_, _, err = s.CreateChannel(g.ID, "random", "dave@A")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, g.Channels, 1)

	_, ch, err := s.CreateChannel(g.ID, "random", "carol@A")
	require.NoError(t, err)
	assert.Equal(t, "random", ch.Name)

	_, _, err = s.CreateChannel(g.ID, "GENERAL", "carol@A")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = s.CreateChannel(g.ID, "   ", "carol@A")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, _, err = s.CreateChannel("missing", "x", "carol@A")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Len(t, g.Channels, 2)
}

func TestInviteSingleUse(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)

	_, err = s.GenerateInvite(g.ID, "dave@A", t0)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	inv, err := s.GenerateInvite(g.ID, "carol@A", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.UsesLeft)

	joined, err := s.RedeemInvite(inv.Code, "dave@A")
	require.NoError(t, err)
	assert.True(t, joined.IsMember("dave@A"))
	assert.Empty(t, g.Invites)

	_, err = s.RedeemInvite(inv.Code, "erin@A")
	assert.ErrorIs(t, err, domain.ErrInviteInvalid)
	assert.False(t, g.IsMember("erin@A"))
	assert.Len(t, g.Members, 2)
}

func TestRedeemByExistingMemberKeepsInvite(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)
	inv, err := s.GenerateInvite(g.ID, "carol@A", t0)
	require.NoError(t, err)

	got, err := s.RedeemInvite(inv.Code, "carol@A")
	assert.True(t, errors.Is(err, domain.ErrAlreadyMember))
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, 1, g.Invites[inv.Code].UsesLeft)

	_, err = s.RedeemInvite(inv.Code, "dave@A")
	require.NoError(t, err)
}

func TestInviteCodeCollisionRetries(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	codes := []string{"dup", "dup", "fresh"}
	s.newCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)

	first, err := s.GenerateInvite(g.ID, "carol@A", t0)
	require.NoError(t, err)
	second, err := s.GenerateInvite(g.ID, "carol@A", t0)
	require.NoError(t, err)
	assert.Equal(t, "dup", first.Code)
	assert.Equal(t, "fresh", second.Code)
}

func TestPostMessageRules(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)
	chID := g.Channels[0].ID

	msg := domain.GuildMessage{ID: "m1", GuildID: g.ID, ChannelID: chID, AuthorFKey: "carol@A", Text: "hello"}
	_, err = s.PostMessage(msg)
	require.NoError(t, err)

	cases := []struct {
		name string
		mut  func(*domain.GuildMessage)
		want error
	}{
		{"unknown_guild", func(m *domain.GuildMessage) { m.GuildID = "nope" }, domain.ErrValidation},
		{"unknown_channel", func(m *domain.GuildMessage) { m.ChannelID = "nope" }, domain.ErrValidation},
		{"non_member", func(m *domain.GuildMessage) { m.AuthorFKey = "eve@B" }, domain.ErrNotAMember},
		{"empty", func(m *domain.GuildMessage) { m.Text = "  " }, domain.ErrValidation},
	}
	for _, tc := range cases {
		m := msg
		tc.mut(&m)
		_, err := s.PostMessage(m)
		assert.ErrorIs(t, err, tc.want, tc.name)
	}
	assert.Len(t, g.Channels[0].Messages, 1)
}

func TestChannelLogBounded(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)
	ch := g.Channels[0]

	for i := 0; i < domain.ChannelLogLimit+7; i++ {
		_, err := s.PostMessage(domain.GuildMessage{
			ID: fmt.Sprintf("m%d", i), GuildID: g.ID, ChannelID: ch.ID, AuthorFKey: "carol@A", Text: "x",
		})
		require.NoError(t, err)
	}
	require.Len(t, ch.Messages, domain.ChannelLogLimit)
	assert.Equal(t, "m7", ch.Messages[0].ID)
	assert.Equal(t, fmt.Sprintf("m%d", domain.ChannelLogLimit+6), ch.Messages[len(ch.Messages)-1].ID)
}

func TestAppendFederatedDedupes(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	g, err := s.CreateGuild("carol@A", "Test", t0)
	require.NoError(t, err)
	msg := domain.GuildMessage{ID: "fm1", GuildID: g.ID, ChannelID: g.Channels[0].ID, AuthorFKey: "bob@B", Text: "hi"}

	got, ok := s.AppendFederated(msg)
	require.True(t, ok)
	assert.Equal(t, g, got)
	_, ok = s.AppendFederated(msg)
	assert.False(t, ok)
	_, ok = s.AppendFederated(domain.GuildMessage{ID: "fm2", GuildID: "other", ChannelID: "c"})
	assert.False(t, ok)
}

func TestRestoreAndGuildsFor(t *testing.T) {
	t.Parallel()

	long := make([]domain.GuildMessage, domain.ChannelLogLimit+3)
	s := newTestStore()
	s.Restore([]*domain.Guild{
		{ID: "g2", Name: "Later", OwnerFKey: "carol@A", CreatedAt: t0.Add(time.Hour),
			Channels: []*domain.Channel{{ID: "c", Name: "general", Messages: long}},
			Invites:  map[string]*domain.Invite{"inv_x": {Code: "inv_x", UsesLeft: 1}}},
		{ID: "g1", Name: "Early", OwnerFKey: "carol@A", Members: []string{"carol@A", "dave@A"}, CreatedAt: t0},
		nil,
	})

	assert.Equal(t, 2, s.Len())
	guilds := s.GuildsFor("carol@A")
	require.Len(t, guilds, 2)
	assert.Equal(t, "g1", guilds[0].ID)
	assert.Len(t, s.GuildsFor("dave@A"), 1)
	g2, _ := s.Get("g2")
	assert.Len(t, g2.Channels[0].Messages, domain.ChannelLogLimit)

	joined, err := s.RedeemInvite("inv_x", "dave@A")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(joined.ID, "g2"))
}
