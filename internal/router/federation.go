package router

import (
	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/metrics"
	"github.com/koltyakov/fedchat/internal/presence"
)

// HandlePeer processes a federation frame received from the established
// peer instance from. Invalid or spoofed frames are dropped without reply.
// Nothing received here is relayed further.
func (r *Router) HandlePeer(from string, msg fedproto.Message) {
	var ok bool
	switch msg.Kind {
	case fedproto.KindFederatedChat:
		ok = r.federatedChat(from, *msg.ChatMessage)
	case fedproto.KindFederatedGuildChat:
		ok = r.federatedGuildChat(from, *msg.GuildMessage)
	case fedproto.KindFederatedDM:
		ok = r.federatedDM(from, *msg.Relay)
	case fedproto.KindFederatedCallSignal:
		ok = r.federatedCall(from, *msg.Relay)
	case fedproto.KindPresenceUpdate:
		ok = r.presenceFromPeer(from, msg.Presence.Entries)
	case fedproto.KindPresenceWithdraw:
		ok = r.withdrawFromPeer(from, msg.Withdraw.FKey)
	}
	if !ok {
		r.metrics.Dropped("peer_" + msg.Kind)
		r.log.Debug("peer frame dropped", "instance_id", from, "kind", msg.Kind)
	}
}

// fromPeer reports whether fkey is a well-formed key hosted by the peer
// instance from.
func fromPeer(from, fkey string) bool {
	return domain.ValidFKey(fkey) && domain.InstanceOf(fkey) == from
}

func (r *Router) federatedChat(from string, msg domain.ChatMessage) bool {
	if !fromPeer(from, msg.UserFKey) || msg.InstanceID != from {
		return false
	}
	if r.seen.Contains(msg.ID) {
		return true
	}
	msg.Text = r.censor.Apply(msg.Text)
	r.appendGlobal(msg)
	r.broadcast(fedproto.Message{Kind: fedproto.KindGlobalChatMessage, ChatMessage: &msg})
	r.metrics.Routed(fedproto.KindFederatedChat, metrics.OutcomeLocal)
	return true
}

func (r *Router) federatedGuildChat(from string, msg domain.GuildMessage) bool {
	if !fromPeer(from, msg.AuthorFKey) {
		return false
	}
	if r.seen.Contains(msg.ID) {
		return true
	}
	r.seen.Add(msg.ID, struct{}{})
	msg.Text = r.censor.Apply(msg.Text)
	g, stored := r.guilds.AppendFederated(msg)
	if !stored {
		// Guilds are hosted per instance; messages for guilds we do not
		// know are ignored.
		return true
	}
	r.saveGuild(g)
	r.toMembers(g, fedproto.Message{Kind: fedproto.KindNewGuildChatMessage, GuildMessage: &msg})
	r.metrics.Routed(fedproto.KindFederatedGuildChat, metrics.OutcomeLocal)
	return true
}

func (r *Router) federatedDM(from string, relay fedproto.Relay) bool {
	dm := *relay.DM
	if !fromPeer(from, relay.OriginFKey) || domain.InstanceOf(relay.TargetFKey) != r.instanceID {
		return false
	}
	if dm.FromFKey != relay.OriginFKey || dm.ToFKey != relay.TargetFKey {
		return false
	}
	dm.Text = r.censor.Apply(dm.Text)
	convID := domain.ConversationID(relay.OriginFKey, relay.TargetFKey)
	if !r.dms.Append(convID, dm) {
		return true
	}
	dm.ConversationID = convID
	r.saveConversation(convID)
	if r.deliverLocal(relay.TargetFKey, fedproto.Message{Kind: fedproto.KindReceiveDM, DM: &dm}) {
		r.metrics.Routed(fedproto.KindFederatedDM, metrics.OutcomeLocal)
	} else {
		r.metrics.Routed(fedproto.KindFederatedDM, metrics.OutcomeNotFound)
	}
	return true
}

func (r *Router) federatedCall(from string, relay fedproto.Relay) bool {
	if !fromPeer(from, relay.OriginFKey) || domain.InstanceOf(relay.TargetFKey) != r.instanceID {
		return false
	}
	username, _, _ := domain.SplitFKey(relay.OriginFKey)
	out := fedproto.Message{Kind: callDelivery(relay.Signal), Call: &fedproto.CallSignal{
		FromFKey:     relay.OriginFKey,
		FromUsername: username,
		Payload:      relay.Payload,
	}}
	if r.deliverLocal(relay.TargetFKey, out) {
		r.metrics.Routed(fedproto.KindFederatedCallSignal, metrics.OutcomeLocal)
	} else {
		r.metrics.Routed(fedproto.KindFederatedCallSignal, metrics.OutcomeNotFound)
	}
	return true
}

func (r *Router) presenceFromPeer(from string, in []fedproto.PresenceEntry) bool {
	entries := make([]presence.RemoteEntry, 0, len(in))
	for _, e := range in {
		entries = append(entries, presence.RemoteEntry{FKey: e.FKey, InstanceID: e.InstanceID})
	}
	if r.dir.MergeRemote(from, entries, r.clock.Now()) {
		r.broadcastUserList()
	}
	return true
}

func (r *Router) withdrawFromPeer(from, fkey string) bool {
	if r.dir.Withdraw(from, fkey) {
		r.broadcastUserList()
	}
	return true
}
