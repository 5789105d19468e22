// Package router is the routing core: it owns client sessions and decides,
// for every chat, guild, DM and call event, whether to deliver locally,
// relay to the peer hosting the target, or report a failure.
//
// A Router is driven exclusively from the server event loop.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/koltyakov/fedchat/internal/censor"
	"github.com/koltyakov/fedchat/internal/dm"
	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/guild"
	"github.com/koltyakov/fedchat/internal/metrics"
	"github.com/koltyakov/fedchat/internal/presence"
	"github.com/koltyakov/fedchat/internal/store/sqlite"
)

const seenCacheSize = 4096

// PeerSet is the view of established peers the router relays through.
type PeerSet interface {
	Route(instanceID string) (fedproto.Sender, bool)
	Flood(msg fedproto.Message) int
}

// Persister schedules snapshot documents for durable storage.
type Persister interface {
	Save(table, key string, v any) error
}

// Options wires a Router.
type Options struct {
	InstanceID string
	Logger     *slog.Logger
	Clock      clock.Clock
	Directory  *presence.Directory
	Guilds     *guild.Store
	DMs        *dm.Store
	Censor     *censor.Censor
	Peers      PeerSet
	Persister  Persister
	Metrics    *metrics.Collector
}

type session struct {
	id       string
	conn     fedproto.Sender
	username string
	fkey     string
}

func (s *session) send(msg fedproto.Message) {
	_ = s.conn.Send(msg)
}

// Router routes events between local sessions and peers.
type Router struct {
	instanceID string
	log        *slog.Logger
	clock      clock.Clock
	dir        *presence.Directory
	guilds     *guild.Store
	dms        *dm.Store
	censor     *censor.Censor
	peers      PeerSet
	persist    Persister
	metrics    *metrics.Collector

	sessions map[string]*session
	global   []domain.ChatMessage
	seen     *lru.Cache[string, struct{}]
	newID    func(prefix string) string
}

// New returns a router. Nil stores are replaced with empty ones.
func New(opts Options) *Router {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	r := &Router{
		instanceID: opts.InstanceID,
		log:        opts.Logger,
		clock:      opts.Clock,
		dir:        opts.Directory,
		guilds:     opts.Guilds,
		dms:        opts.DMs,
		censor:     opts.Censor,
		peers:      opts.Peers,
		persist:    opts.Persister,
		metrics:    opts.Metrics,
		sessions:   make(map[string]*session),
		global:     []domain.ChatMessage{},
		seen:       seen,
		newID:      domain.NewID,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "router")
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.dir == nil {
		r.dir = presence.New(opts.InstanceID)
	}
	if r.guilds == nil {
		r.guilds = guild.New()
	}
	if r.dms == nil {
		r.dms = dm.New()
	}
	if r.peers == nil {
		r.peers = noPeers{}
	}
	return r
}

type noPeers struct{}

func (noPeers) Route(string) (fedproto.Sender, bool) { return nil, false }
func (noPeers) Flood(fedproto.Message) int          { return 0 }

// RestoreGlobal seeds the global log from persisted state.
func (r *Router) RestoreGlobal(msgs []domain.ChatMessage) {
	if len(msgs) > domain.GlobalLogLimit {
		msgs = msgs[len(msgs)-domain.GlobalLogLimit:]
	}
	r.global = slices.Clone(msgs)
	for _, m := range r.global {
		r.seen.Add(m.ID, struct{}{})
	}
}

// GlobalLog returns a copy of the global chat log.
func (r *Router) GlobalLog() []domain.ChatMessage {
	return slices.Clone(r.global)
}

// SetWords replaces the censorship word list.
func (r *Router) SetWords(words []string) {
	r.censor = censor.New(words)
}

// Sessions reports the number of connected client sessions.
func (r *Router) Sessions() int { return len(r.sessions) }

// Connect registers a classified client session and greets it.
func (r *Router) Connect(id string, conn fedproto.Sender) {
	s := &session{id: id, conn: conn}
	r.sessions[id] = s
	r.metrics.SetSessions(len(r.sessions))
	s.send(fedproto.Message{Kind: fedproto.KindWelcome, Welcome: &fedproto.Welcome{
		InstanceID: r.instanceID,
		SessionID:  id,
		Messages:   r.GlobalLog(),
	}})
	s.send(r.userList())
	r.log.Debug("session connected", "session", id)
}

// Disconnect forgets a session and withdraws its user from peers.
func (r *Router) Disconnect(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.metrics.SetSessions(len(r.sessions))
	if s.fkey != "" && r.dir.RemoveLocal(s.fkey, id) {
		r.withdraw(s.fkey)
		r.broadcastUserList()
	}
	r.log.Debug("session disconnected", "session", id, "fkey", s.fkey)
}

// HandleSession processes one request from a local session. Rejected
// requests answer the session with an error event.
func (r *Router) HandleSession(id string, msg fedproto.Message) {
	s, ok := r.sessions[id]
	if !ok {
		r.log.Debug("frame for unknown session dropped", "session", id, "kind", msg.Kind)
		return
	}
	var err error
	switch msg.Kind {
	case fedproto.KindSetUsername:
		err = r.setUsername(s, msg.SetUsername.Username)
	case fedproto.KindSendGlobalChat:
		err = r.sendGlobalChat(s, msg.Chat.Text)
	case fedproto.KindCreateGuild:
		err = r.createGuild(s, msg.CreateGuild.Name)
	case fedproto.KindCreateChannel:
		err = r.createChannel(s, *msg.CreateChannel)
	case fedproto.KindGenerateInvite:
		err = r.generateInvite(s, msg.GuildRef.GuildID)
	case fedproto.KindRedeemInvite:
		err = r.redeemInvite(s, msg.RedeemInvite.Code)
	case fedproto.KindSendGuildChat:
		err = r.sendGuildChat(s, *msg.GuildChat)
	case fedproto.KindSendDM:
		err = r.sendDM(s, msg.SendDM.TargetFKey, msg.SendDM.Text)
	case fedproto.KindLoadDMHistory:
		err = r.loadDMHistory(s, msg.LoadDMHistory.WithFKey)
	case fedproto.KindCallOffer, fedproto.KindCallAnswer, fedproto.KindCallIceCandidate,
		fedproto.KindCallReject, fedproto.KindCallHangup, fedproto.KindCallBusy:
		err = r.callSignal(s, msg.Kind, *msg.Call)
	default:
		err = domain.Invalid(msg.Kind, "unsupported request")
	}
	if err != nil {
		r.metrics.Routed(msg.Kind, outcomeFor(err))
		r.log.Debug("request rejected", "session", id, "kind", msg.Kind, "err", err)
		s.send(errorEvent(msg.Kind, err))
	}
}

// RejectFrame answers a session whose frame could not be decoded. It reports
// false when id is not a client session.
func (r *Router) RejectFrame(id string, err error) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.send(fedproto.NewError(fedproto.KindError, "", fmt.Errorf("%w: %w", domain.ErrValidation, err)))
	return true
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrTargetNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrTargetUnreachable):
		return metrics.OutcomeUnreachable
	default:
		return metrics.OutcomeRejected
	}
}

func errorEvent(kind string, err error) fedproto.Message {
	switch {
	case kind == fedproto.KindSendDM || kind == fedproto.KindLoadDMHistory:
		return fedproto.NewError(fedproto.KindDMError, kind, err)
	case fedproto.IsCallKind(kind) && (errors.Is(err, domain.ErrTargetNotFound) || errors.Is(err, domain.ErrTargetUnreachable)):
		msg := fedproto.NewError(fedproto.KindTargetNotFound, kind, err)
		var op *domain.OpError
		if errors.As(err, &op) {
			msg.Error.Target = op.Target
		}
		return msg
	default:
		return fedproto.NewError(fedproto.KindError, kind, err)
	}
}

// PeerEstablished pushes our local users to a newly established peer.
func (r *Router) PeerEstablished(instanceID string, link fedproto.Sender) {
	_ = link.Send(r.presenceUpdate())
	r.log.Debug("presence pushed to peer", "instance_id", instanceID)
}

// PeerLost purges every directory entry of the lost instance.
func (r *Router) PeerLost(instanceID string) {
	if n := r.dir.RemoveByInstance(instanceID); n > 0 {
		r.log.Info("purged users of lost peer", "instance_id", instanceID, "users", n)
		r.broadcastUserList()
	}
}

// Prune removes stale remote presence and returns how many entries went.
func (r *Router) Prune(timeout time.Duration) int {
	n := r.dir.PruneStale(r.clock.Now(), timeout)
	if n > 0 {
		r.log.Info("pruned stale presence", "entries", n)
		r.broadcastUserList()
	}
	return n
}

func (r *Router) now() time.Time {
	return fedproto.Now(r.clock.Now())
}

func requireAuth(s *session, op string) error {
	if s.fkey == "" {
		return &domain.OpError{Op: op, Err: domain.ErrAuthenticationRequired}
	}
	return nil
}

func cleanText(op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Invalid(op, "message cannot be empty")
	}
	if utf8.RuneCountInString(text) > domain.MaxTextLen {
		return "", domain.Invalid(op, "message is too long")
	}
	return text, nil
}

// broadcast sends msg to every local session.
func (r *Router) broadcast(msg fedproto.Message) {
	for _, s := range r.sortedSessions() {
		s.send(msg)
	}
}

// toMembers sends msg to local sessions whose user belongs to g.
func (r *Router) toMembers(g *domain.Guild, msg fedproto.Message) {
	for _, s := range r.sortedSessions() {
		if s.fkey != "" && g.IsMember(s.fkey) {
			s.send(msg)
		}
	}
}

func (r *Router) sortedSessions() []*session {
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *session) int { return strings.Compare(a.id, b.id) })
	return out
}

func (r *Router) userList() fedproto.Message {
	entries := r.dir.Snapshot()
	users := make([]fedproto.UserEntry, 0, len(entries))
	for _, e := range entries {
		users = append(users, fedproto.UserEntry{
			FKey:       e.FKey,
			Username:   e.Username,
			InstanceID: e.InstanceID,
			Local:      e.IsLocal(),
		})
	}
	return fedproto.Message{Kind: fedproto.KindUserListUpdate, UserList: &fedproto.UserList{Users: users}}
}

func (r *Router) broadcastUserList() {
	r.metrics.SetPresence(r.dir.Counts())
	r.broadcast(r.userList())
}

func (r *Router) presenceUpdate() fedproto.Message {
	local := r.dir.LocalEntries()
	entries := make([]fedproto.PresenceEntry, 0, len(local))
	for _, e := range local {
		entries = append(entries, fedproto.PresenceEntry{FKey: e.FKey, InstanceID: e.InstanceID})
	}
	return fedproto.Message{Kind: fedproto.KindPresenceUpdate, Presence: &fedproto.Presence{Entries: entries}}
}

func (r *Router) withdraw(fkey string) {
	r.peers.Flood(fedproto.Message{Kind: fedproto.KindPresenceWithdraw, Withdraw: &fedproto.Withdraw{FKey: fkey}})
}

// deliver resolves target through the directory and hands local to its
// session or relay to the peer hosting it.
func (r *Router) deliver(op, target string, local, relay fedproto.Message) (string, error) {
	e, ok := r.dir.Lookup(target)
	if !ok {
		return "", &domain.OpError{Op: op, Target: target, Err: domain.ErrTargetNotFound}
	}
	if e.IsLocal() {
		return r.sendLocal(op, target, e.LocalSessionID, local)
	}
	return r.relayTo(op, target, e.InstanceID, relay)
}

// deliverHome routes on the instance named in target. A remote user absent
// from the directory is still relayed to its home instance, which keeps the
// message even when that user is offline.
func (r *Router) deliverHome(op, target string, local, relay fedproto.Message) (string, error) {
	if home := domain.InstanceOf(target); home != r.instanceID {
		return r.relayTo(op, target, home, relay)
	}
	e, ok := r.dir.Lookup(target)
	if !ok {
		return "", &domain.OpError{Op: op, Target: target, Err: domain.ErrTargetNotFound}
	}
	return r.sendLocal(op, target, e.LocalSessionID, local)
}

func (r *Router) sendLocal(op, target, sessionID string, msg fedproto.Message) (string, error) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", &domain.OpError{Op: op, Target: target, Err: domain.ErrTargetNotFound}
	}
	s.send(msg)
	return metrics.OutcomeLocal, nil
}

func (r *Router) relayTo(op, target, instanceID string, msg fedproto.Message) (string, error) {
	link, ok := r.peers.Route(instanceID)
	if !ok {
		return "", &domain.OpError{Op: op, Target: target, Err: domain.ErrTargetUnreachable}
	}
	if err := link.Send(msg); err != nil {
		return "", &domain.OpError{Op: op, Target: target, Err: errors.Join(domain.ErrTargetUnreachable, err)}
	}
	return metrics.OutcomeRelayed, nil
}

// deliverLocal hands msg to the local session of target, if any.
func (r *Router) deliverLocal(target string, msg fedproto.Message) bool {
	e, ok := r.dir.Lookup(target)
	if !ok || !e.IsLocal() {
		return false
	}
	s, ok := r.sessions[e.LocalSessionID]
	if !ok {
		return false
	}
	s.send(msg)
	return true
}

func (r *Router) save(table, key string, v any) {
	if r.persist == nil {
		return
	}
	if err := r.persist.Save(table, key, v); err != nil {
		r.log.Error("snapshot not queued", "table", table, "key", key, "err", err)
	}
}

func (r *Router) saveGlobal() {
	r.save(sqlite.TableMessageLog, sqlite.GlobalLogKey, r.global)
}

func (r *Router) saveGuild(g *domain.Guild) {
	r.save(sqlite.TableGuilds, g.ID, g)
}

func (r *Router) saveConversation(id string) {
	r.save(sqlite.TableDMConversations, id, r.dms.History(id))
}
