package fedproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownKind is returned for kinds outside the inbound vocabulary.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrMissingPayload means the payload field for the kind is absent.
	ErrMissingPayload = errors.New("missing payload")

	// ErrExtraPayload means a frame populates more than one variant.
	ErrExtraPayload = errors.New("more than one payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var sessionKinds = []string{
	KindSetUsername, KindSendGlobalChat, KindCreateGuild, KindCreateChannel,
	KindGenerateInvite, KindRedeemInvite, KindSendGuildChat, KindSendDM,
	KindLoadDMHistory, KindCallOffer, KindCallAnswer, KindCallIceCandidate,
	KindCallReject, KindCallHangup, KindCallBusy,
}

var peerKinds = []string{
	KindHandshake, KindHandshakeAck, KindPeerListGossip, KindFederatedChat,
	KindFederatedGuildChat, KindFederatedDM, KindFederatedCallSignal,
	KindPresenceUpdate, KindPresenceWithdraw,
}

var callKinds = []string{
	KindCallOffer, KindCallAnswer, KindCallIceCandidate,
	KindCallReject, KindCallHangup, KindCallBusy,
}

// IsSessionKind reports whether kind is sent by client sessions.
func IsSessionKind(kind string) bool { return slices.Contains(sessionKinds, kind) }

// IsPeerKind reports whether kind belongs to the federation vocabulary.
func IsPeerKind(kind string) bool { return slices.Contains(peerKinds, kind) }

// IsCallKind reports whether kind is a call-signaling request.
func IsCallKind(kind string) bool { return slices.Contains(callKinds, kind) }

// Decode parses and validates one inbound frame.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks that the payload for Kind is the only variant present and
// carries its required fields.
func (m Message) Validate() error {
	payload, err := m.payload()
	if err != nil {
		return err
	}
	if n := m.variants(); n != 1 {
		return fmt.Errorf("%s: %w (%d set)", m.Kind, ErrExtraPayload, n)
	}
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%s: %w", m.Kind, err)
	}
	if m.Kind == KindFederatedDM && m.Relay.DM == nil {
		return fmt.Errorf("%s: %w", m.Kind, ErrMissingPayload)
	}
	if m.Kind == KindFederatedCallSignal && !IsCallKind(m.Relay.Signal) {
		return fmt.Errorf("%s: invalid signal %q", m.Kind, m.Relay.Signal)
	}
	return nil
}

func (m Message) payload() (any, error) {
	var (
		v       any
		present bool
	)
	switch m.Kind {
	case KindSetUsername:
		v, present = m.SetUsername, m.SetUsername != nil
	case KindSendGlobalChat:
		v, present = m.Chat, m.Chat != nil
	case KindCreateGuild:
		v, present = m.CreateGuild, m.CreateGuild != nil
	case KindCreateChannel:
		v, present = m.CreateChannel, m.CreateChannel != nil
	case KindGenerateInvite:
		v, present = m.GuildRef, m.GuildRef != nil
	case KindRedeemInvite:
		v, present = m.RedeemInvite, m.RedeemInvite != nil
	case KindSendGuildChat:
		v, present = m.GuildChat, m.GuildChat != nil
	case KindSendDM:
		v, present = m.SendDM, m.SendDM != nil
	case KindLoadDMHistory:
		v, present = m.LoadDMHistory, m.LoadDMHistory != nil
	case KindCallOffer, KindCallAnswer, KindCallIceCandidate, KindCallReject, KindCallHangup, KindCallBusy:
		v, present = m.Call, m.Call != nil
	case KindHandshake:
		v, present = m.Handshake, m.Handshake != nil
	case KindHandshakeAck:
		v, present = m.HandshakeAck, m.HandshakeAck != nil
	case KindPeerListGossip:
		v, present = m.Gossip, m.Gossip != nil
	case KindFederatedChat:
		v, present = m.ChatMessage, m.ChatMessage != nil && m.ChatMessage.ID != "" && m.ChatMessage.UserFKey != ""
	case KindFederatedGuildChat:
		v, present = m.GuildMessage, m.GuildMessage != nil && m.GuildMessage.ID != "" &&
			m.GuildMessage.GuildID != "" && m.GuildMessage.ChannelID != ""
	case KindFederatedDM, KindFederatedCallSignal:
		v, present = m.Relay, m.Relay != nil
	case KindPresenceUpdate:
		v, present = m.Presence, m.Presence != nil
	case KindPresenceWithdraw:
		v, present = m.Withdraw, m.Withdraw != nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if !present {
		return nil, fmt.Errorf("%s: %w", m.Kind, ErrMissingPayload)
	}
	return v, nil
}

func (m Message) variants() int {
	set := []bool{
		m.SetUsername != nil, m.Chat != nil, m.CreateGuild != nil, m.CreateChannel != nil,
		m.GuildRef != nil, m.RedeemInvite != nil, m.GuildChat != nil, m.SendDM != nil,
		m.LoadDMHistory != nil, m.Call != nil,
		m.Welcome != nil, m.ChatMessage != nil, m.UserList != nil, m.GuildList != nil,
		m.Guild != nil, m.Invite != nil, m.Notice != nil, m.GuildMessage != nil,
		m.DM != nil, m.DMHistory != nil, m.Error != nil,
		m.Handshake != nil, m.HandshakeAck != nil, m.Gossip != nil, m.Relay != nil,
		m.Presence != nil, m.Withdraw != nil,
	}
	n := 0
	for _, v := range set {
		if v {
			n++
		}
	}
	return n
}

// Priority reports whether msg should jump ahead of queued bulk traffic.
func (m Message) Priority() bool {
	switch m.Kind {
	case KindHandshake, KindHandshakeAck, KindPeerListGossip, KindPresenceUpdate,
		KindPresenceWithdraw, KindWelcome, KindError, KindDMError, KindTargetNotFound:
		return true
	}
	return IsCallKind(m.Kind) || m.Kind == KindFederatedCallSignal
}
