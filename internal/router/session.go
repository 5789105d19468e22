package router

import (
	"errors"
	"strings"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/metrics"
)

func (r *Router) setUsername(s *session, raw string) error {
	name, err := domain.NormalizeUsername(raw)
	if err != nil {
		return err
	}
	if s.fkey != "" && s.fkey != domain.FKey(name, r.instanceID) && r.dir.RemoveLocal(s.fkey, s.id) {
		r.withdraw(s.fkey)
	}
	s.username = name
	s.fkey = r.dir.SetLocal(name, s.id, r.clock.Now())
	r.log.Info("username set", "session", s.id, "fkey", s.fkey)

	r.peers.Flood(r.presenceUpdate())
	r.broadcastUserList()
	s.send(r.guildList(s.fkey))
	r.metrics.Routed(fedproto.KindSetUsername, metrics.OutcomeLocal)
	return nil
}

func (r *Router) sendGlobalChat(s *session, raw string) error {
	if err := requireAuth(s, fedproto.KindSendGlobalChat); err != nil {
		return err
	}
	text, err := cleanText(fedproto.KindSendGlobalChat, raw)
	if err != nil {
		return err
	}
	msg := domain.ChatMessage{
		ID:         r.newID("msg"),
		UserFKey:   s.fkey,
		Username:   s.username,
		Text:       r.censor.Apply(text),
		Timestamp:  r.now(),
		InstanceID: r.instanceID,
	}
	r.appendGlobal(msg)
	r.broadcast(fedproto.Message{Kind: fedproto.KindGlobalChatMessage, ChatMessage: &msg})
	if r.peers.Flood(fedproto.Message{Kind: fedproto.KindFederatedChat, ChatMessage: &msg}) > 0 {
		r.metrics.Routed(fedproto.KindSendGlobalChat, metrics.OutcomeFlooded)
	} else {
		r.metrics.Routed(fedproto.KindSendGlobalChat, metrics.OutcomeLocal)
	}
	return nil
}

func (r *Router) appendGlobal(msg domain.ChatMessage) {
	r.seen.Add(msg.ID, struct{}{})
	r.global = domain.AppendBounded(r.global, msg, domain.GlobalLogLimit)
	r.saveGlobal()
}

func (r *Router) guildList(fkey string) fedproto.Message {
	return fedproto.Message{Kind: fedproto.KindGuildListUpdate, GuildList: &fedproto.GuildList{Guilds: r.guilds.GuildsFor(fkey)}}
}

func structureUpdate(g *domain.Guild) fedproto.Message {
	return fedproto.Message{Kind: fedproto.KindGuildStructureUpdate, Guild: g}
}

func (r *Router) createGuild(s *session, name string) error {
	if err := requireAuth(s, fedproto.KindCreateGuild); err != nil {
		return err
	}
	g, err := r.guilds.CreateGuild(s.fkey, name, r.now())
	if err != nil {
		return err
	}
	r.saveGuild(g)
	r.log.Info("guild created", "guild", g.ID, "owner", s.fkey)
	s.send(structureUpdate(g))
	s.send(r.guildList(s.fkey))
	r.metrics.Routed(fedproto.KindCreateGuild, metrics.OutcomeLocal)
	return nil
}

func (r *Router) createChannel(s *session, req fedproto.CreateChannel) error {
	if err := requireAuth(s, fedproto.KindCreateChannel); err != nil {
		return err
	}
	g, ch, err := r.guilds.CreateChannel(req.GuildID, req.Name, s.fkey)
	if err != nil {
		return err
	}
	r.saveGuild(g)
	r.log.Info("channel created", "guild", g.ID, "channel", ch.ID)
	r.toMembers(g, structureUpdate(g))
	r.metrics.Routed(fedproto.KindCreateChannel, metrics.OutcomeLocal)
	return nil
}

func (r *Router) generateInvite(s *session, guildID string) error {
	if err := requireAuth(s, fedproto.KindGenerateInvite); err != nil {
		return err
	}
	inv, err := r.guilds.GenerateInvite(guildID, s.fkey, r.now())
	if err != nil {
		return err
	}
	g, _ := r.guilds.Get(guildID)
	r.saveGuild(g)
	s.send(fedproto.Message{Kind: fedproto.KindInviteGenerated, Invite: &fedproto.InviteInfo{GuildID: guildID, Code: inv.Code}})
	r.metrics.Routed(fedproto.KindGenerateInvite, metrics.OutcomeLocal)
	return nil
}

func (r *Router) redeemInvite(s *session, code string) error {
	if err := requireAuth(s, fedproto.KindRedeemInvite); err != nil {
		return err
	}
	g, err := r.guilds.RedeemInvite(code, s.fkey)
	if errors.Is(err, domain.ErrAlreadyMember) {
		s.send(fedproto.Message{Kind: fedproto.KindGuildJoinInfo, Notice: &fedproto.Notice{
			GuildID: g.ID,
			Message: "You are already a member of this guild.",
		}})
		return nil
	}
	if err != nil {
		return err
	}
	r.saveGuild(g)
	r.log.Info("guild joined", "guild", g.ID, "fkey", s.fkey)
	s.send(r.guildList(s.fkey))
	r.toMembers(g, structureUpdate(g))
	r.metrics.Routed(fedproto.KindRedeemInvite, metrics.OutcomeLocal)
	return nil
}

func (r *Router) sendGuildChat(s *session, req fedproto.GuildChat) error {
	if err := requireAuth(s, fedproto.KindSendGuildChat); err != nil {
		return err
	}
	text, err := cleanText(fedproto.KindSendGuildChat, req.Text)
	if err != nil {
		return err
	}
	msg := domain.GuildMessage{
		ID:         r.newID("gmsg"),
		GuildID:    req.GuildID,
		ChannelID:  req.ChannelID,
		AuthorFKey: s.fkey,
		Username:   s.username,
		Text:       r.censor.Apply(text),
		Timestamp:  r.now(),
		InstanceID: r.instanceID,
	}
	g, err := r.guilds.PostMessage(msg)
	if err != nil {
		return err
	}
	r.seen.Add(msg.ID, struct{}{})
	r.saveGuild(g)
	r.toMembers(g, fedproto.Message{Kind: fedproto.KindNewGuildChatMessage, GuildMessage: &msg})
	if r.peers.Flood(fedproto.Message{Kind: fedproto.KindFederatedGuildChat, GuildMessage: &msg}) > 0 {
		r.metrics.Routed(fedproto.KindSendGuildChat, metrics.OutcomeFlooded)
	} else {
		r.metrics.Routed(fedproto.KindSendGuildChat, metrics.OutcomeLocal)
	}
	return nil
}

func validTarget(op, fkey string) (string, error) {
	fkey = strings.TrimSpace(fkey)
	if !domain.ValidFKey(fkey) {
		return "", domain.Invalid(op, "target must be username@instance")
	}
	return fkey, nil
}

func (r *Router) sendDM(s *session, rawTarget, raw string) error {
	if err := requireAuth(s, fedproto.KindSendDM); err != nil {
		return err
	}
	target, err := validTarget(fedproto.KindSendDM, rawTarget)
	if err != nil {
		return err
	}
	if target == s.fkey {
		return domain.Invalid(fedproto.KindSendDM, "you cannot send a DM to yourself")
	}
	text, err := cleanText(fedproto.KindSendDM, raw)
	if err != nil {
		return err
	}
	convID := domain.ConversationID(s.fkey, target)
	msg := domain.DirectMessage{
		ID:             r.newID("dm"),
		ConversationID: convID,
		FromFKey:       s.fkey,
		FromUsername:   s.username,
		ToFKey:         target,
		Text:           r.censor.Apply(text),
		Timestamp:      r.now(),
	}
	// The sender keeps a record whatever the delivery outcome.
	r.dms.Append(convID, msg)
	r.saveConversation(convID)

	local := fedproto.Message{Kind: fedproto.KindReceiveDM, DM: &msg}
	relay := fedproto.Message{Kind: fedproto.KindFederatedDM, Relay: &fedproto.Relay{
		OriginFKey: s.fkey,
		TargetFKey: target,
		DM:         &msg,
	}}
	outcome, deliverErr := r.deliverHome(fedproto.KindSendDM, target, local, relay)
	s.send(local)
	if deliverErr != nil {
		r.log.Info("dm not delivered", "from", s.fkey, "to", target, "err", deliverErr)
		return deliverErr
	}
	r.metrics.Routed(fedproto.KindSendDM, outcome)
	return nil
}

func (r *Router) loadDMHistory(s *session, rawWith string) error {
	if err := requireAuth(s, fedproto.KindLoadDMHistory); err != nil {
		return err
	}
	with, err := validTarget(fedproto.KindLoadDMHistory, rawWith)
	if err != nil {
		return err
	}
	convID := domain.ConversationID(s.fkey, with)
	s.send(fedproto.Message{Kind: fedproto.KindDMHistory, DMHistory: &fedproto.DMHistory{
		WithFKey:       with,
		ConversationID: convID,
		Messages:       r.dms.History(convID),
	}})
	r.metrics.Routed(fedproto.KindLoadDMHistory, metrics.OutcomeLocal)
	return nil
}
