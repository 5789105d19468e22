// Package fedproto defines the JSON wire protocol exchanged over WebSocket
// between fedchat instances and their client sessions, and between peered
// instances.
package fedproto

import (
	"encoding/json"
	"time"

	"github.com/koltyakov/fedchat/internal/domain"
)

// Session kinds sent by clients.
const (
	KindSetUsername      = "setUsername"
	KindSendGlobalChat   = "sendGlobalChat"
	KindCreateGuild      = "createGuild"
	KindCreateChannel    = "createChannel"
	KindGenerateInvite   = "generateInvite"
	KindRedeemInvite     = "redeemInvite"
	KindSendGuildChat    = "sendGuildChat"
	KindSendDM           = "sendDM"
	KindLoadDMHistory    = "loadDMHistory"
	KindCallOffer        = "callOffer"
	KindCallAnswer       = "callAnswer"
	KindCallIceCandidate = "callIceCandidate"
	KindCallReject       = "callReject"
	KindCallHangup       = "callHangup"
	KindCallBusy         = "callBusy"
)

// Session kinds sent by the server.
const (
	KindWelcome              = "welcome"
	KindGlobalChatMessage    = "globalChatMessage"
	KindUserListUpdate       = "userListUpdate"
	KindGuildListUpdate      = "guildListUpdate"
	KindGuildStructureUpdate = "guildStructureUpdate"
	KindInviteGenerated      = "inviteGenerated"
	KindGuildJoinInfo        = "guildJoinInfo"
	KindNewGuildChatMessage  = "newGuildChatMessage"
	KindReceiveDM            = "receiveDM"
	KindDMHistory            = "dmHistory"
	KindDMError              = "dmError"
	KindCallRejected         = "callRejected"
	KindCallEnded            = "callEnded"
	KindTargetNotFound       = "targetNotFound"
	KindError                = "error"
)

// Federation kinds exchanged between peers.
const (
	KindHandshake           = "handshake"
	KindHandshakeAck        = "handshakeAck"
	KindPeerListGossip      = "peerListGossip"
	KindFederatedChat       = "federatedChatMessage"
	KindFederatedGuildChat  = "federatedGuildChatMessage"
	KindFederatedDM         = "federatedDirectMessage"
	KindFederatedCallSignal = "federatedCallSignal"
	KindPresenceUpdate      = "presenceUpdate"
	KindPresenceWithdraw    = "presenceWithdraw"
)

// Sender queues a message on one connection.
type Sender interface {
	Send(msg Message) error
}

// Message is the top-level envelope exchanged on every WebSocket. Exactly
// one payload field matching Kind is populated.
type Message struct {
	Kind string `json:"kind"`

	// Session requests.
	SetUsername   *SetUsername   `json:"setUsername,omitempty"`
	Chat          *ChatSend      `json:"chat,omitempty"`
	CreateGuild   *CreateGuild   `json:"createGuild,omitempty"`
	CreateChannel *CreateChannel `json:"createChannel,omitempty"`
	GuildRef      *GuildRef      `json:"guildRef,omitempty"`
	RedeemInvite  *RedeemInvite  `json:"redeemInvite,omitempty"`
	GuildChat     *GuildChat     `json:"guildChat,omitempty"`
	SendDM        *SendDM        `json:"sendDM,omitempty"`
	LoadDMHistory *LoadDMHistory `json:"loadDMHistory,omitempty"`
	Call          *CallSignal    `json:"call,omitempty"`

	// Server events.
	Welcome      *Welcome              `json:"welcome,omitempty"`
	ChatMessage  *domain.ChatMessage   `json:"chatMessage,omitempty"`
	UserList     *UserList             `json:"userList,omitempty"`
	GuildList    *GuildList            `json:"guildList,omitempty"`
	Guild        *domain.Guild         `json:"guild,omitempty"`
	Invite       *InviteInfo           `json:"invite,omitempty"`
	Notice       *Notice               `json:"notice,omitempty"`
	GuildMessage *domain.GuildMessage  `json:"guildMessage,omitempty"`
	DM           *domain.DirectMessage `json:"dm,omitempty"`
	DMHistory    *DMHistory            `json:"dmHistory,omitempty"`
	Error        *ErrorInfo            `json:"error,omitempty"`

	// Federation.
	Handshake    *Handshake    `json:"handshake,omitempty"`
	HandshakeAck *HandshakeAck `json:"handshakeAck,omitempty"`
	Gossip       *Gossip       `json:"gossip,omitempty"`
	Relay        *Relay        `json:"relay,omitempty"`
	Presence     *Presence     `json:"presence,omitempty"`
	Withdraw     *Withdraw     `json:"withdraw,omitempty"`
}

// SetUsername claims a username for the session.
type SetUsername struct {
	Username string `json:"username" validate:"required"`
}

// ChatSend posts to the global chat.
type ChatSend struct {
	Text string `json:"text" validate:"required"`
}

// CreateGuild creates a guild owned by the sender.
type CreateGuild struct {
	Name string `json:"name" validate:"required"`
}

// CreateChannel adds a channel to a guild.
type CreateChannel struct {
	GuildID string `json:"guildId" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=text"`
}

// GuildRef names a guild for guild-scoped requests.
type GuildRef struct {
	GuildID string `json:"guildId" validate:"required"`
}

// RedeemInvite joins the guild behind an invite code.
type RedeemInvite struct {
	Code string `json:"code" validate:"required"`
}

// GuildChat posts to a guild channel.
type GuildChat struct {
	GuildID   string `json:"guildId" validate:"required"`
	ChannelID string `json:"channelId" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

// SendDM sends a direct message to a federated key.
type SendDM struct {
	TargetFKey string `json:"targetFKey" validate:"required"`
	Text       string `json:"text" validate:"required"`
}

// LoadDMHistory requests the conversation with another fkey.
type LoadDMHistory struct {
	WithFKey string `json:"withFKey" validate:"required"`
}

// CallSignal carries an opaque call-signaling payload. Requests name their
// target by local session id, federated key or bare username (offers only);
// deliveries carry the sender's identity in the From fields.
type CallSignal struct {
	TargetSessionID string          `json:"targetSessionId,omitempty" validate:"required_without_all=TargetFKey TargetUsername"`
	TargetFKey      string          `json:"targetFKey,omitempty"`
	TargetUsername  string          `json:"targetUsername,omitempty"`
	FromSessionID   string          `json:"fromSessionId,omitempty"`
	FromFKey        string          `json:"fromFKey,omitempty"`
	FromUsername    string          `json:"fromUsername,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Welcome greets a newly classified client session.
type Welcome struct {
	InstanceID string               `json:"instanceId"`
	SessionID  string               `json:"sessionId"`
	Messages   []domain.ChatMessage `json:"messages"`
}

// UserEntry is one row of the presence list shown to clients.
type UserEntry struct {
	FKey       string `json:"fkey"`
	Username   string `json:"username"`
	InstanceID string `json:"instanceId"`
	Local      bool   `json:"local"`
}

// UserList is the full presence snapshot.
type UserList struct {
	Users []UserEntry `json:"users"`
}

// GuildList is the set of guilds a user belongs to.
type GuildList struct {
	Guilds []*domain.Guild `json:"guilds"`
}

// InviteInfo reports a freshly generated invite code.
type InviteInfo struct {
	GuildID string `json:"guildId"`
	Code    string `json:"code"`
}

// Notice is an informational, non-error signal.
type Notice struct {
	GuildID string `json:"guildId,omitempty"`
	Message string `json:"message"`
}

// DMHistory answers a history request.
type DMHistory struct {
	WithFKey       string                 `json:"withFKey"`
	ConversationID string                 `json:"conversationId"`
	Messages       []domain.DirectMessage `json:"messages"`
}

// ErrorInfo is surfaced to local sessions only.
type ErrorInfo struct {
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// Handshake announces the dialing instance.
type Handshake struct {
	InstanceID        string `json:"instanceId" validate:"required"`
	AdvertisedAddress string `json:"advertisedAddress,omitempty"`
}

// HandshakeAck completes a handshake.
type HandshakeAck struct {
	InstanceID string `json:"instanceId" validate:"required"`
}

// Gossip shares the addresses of other established peers.
type Gossip struct {
	Addresses []string `json:"addresses" validate:"dive,required"`
}

// Relay wraps a payload addressed to one user on the receiving instance.
type Relay struct {
	OriginFKey string                `json:"originFKey" validate:"required"`
	TargetFKey string                `json:"targetFKey" validate:"required"`
	Signal     string                `json:"signal,omitempty"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	DM         *domain.DirectMessage `json:"dm,omitempty"`
}

// PresenceEntry announces one user hosted by the sending instance.
type PresenceEntry struct {
	FKey       string `json:"fkey" validate:"required"`
	InstanceID string `json:"instanceId" validate:"required"`
}

// Presence is the sender's full local user set.
type Presence struct {
	Entries []PresenceEntry `json:"entries" validate:"dive"`
}

// Withdraw announces that a user left the sending instance.
type Withdraw struct {
	FKey string `json:"fkey" validate:"required"`
}

// NewError builds an error event for a local session.
func NewError(kind, op string, err error) Message {
	return Message{Kind: kind, Error: &ErrorInfo{
		Op:      op,
		Code:    domain.Code(err),
		Message: err.Error(),
	}}
}

// Now truncates wall time for wire timestamps.
func Now(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
