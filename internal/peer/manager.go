// Package peer manages the federation mesh: outbound dials with retry,
// inbound handshake classification, deny-list enforcement, peer-list gossip
// and the instance-id routing table used by the router.
//
// Every Manager method except the dial goroutines runs on the server's event
// loop. Background work re-enters the loop through the post callback.
package peer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/metrics"
	"github.com/koltyakov/fedchat/internal/netutil"
)

var (
	ErrInvalidAddress   = errors.New("invalid peer address")
	ErrDialPending      = errors.New("dial already in progress")
	ErrAlreadyConnected = errors.New("peer already connected")
	ErrClosed           = errors.New("peer manager closed")
)

// Link is one WebSocket connection as seen by the manager.
type Link interface {
	fedproto.Sender
	ID() string
	RemoteHost() string
	// Start begins delivering inbound frames to the event loop.
	Start()
	Close()
}

// DialFunc opens an outbound connection and completes the handshake. It
// returns a link whose read pump has not been started.
type DialFunc func(ctx context.Context, address string, hello fedproto.Handshake) (Link, string, error)

// Direction records which side opened a peer connection.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Dial results reported to metrics.
const (
	dialEstablished = "established"
	dialFailed      = "failed"
	dialRejected    = "rejected"
)

// Config holds the topology settings.
type Config struct {
	InstanceID    string
	AdvertiseAddr string
	Port          int
	HandshakeWait time.Duration
	DialTimeout   time.Duration
	DialAttempts  int
	DialBackoff   time.Duration
}

// Hooks are invoked on the event loop.
type Hooks struct {
	// OnEstablished fires after a peer is registered and acknowledged.
	OnEstablished func(instanceID string, link Link)
	// OnLost fires when the routed connection for an instance goes away.
	OnLost func(instanceID string)
	// OnClient fires when an inbound link is classified as a client session.
	OnClient func(link Link)
	// OnPeerEvent receives federation frames other than handshakes and gossip.
	OnPeerEvent func(instanceID string, msg fedproto.Message)
}

// Options wires a Manager.
type Options struct {
	Config  Config
	Logger  *slog.Logger
	Clock   clock.Clock
	Post    func(func())
	Dial    DialFunc
	Hooks   Hooks
	Metrics *metrics.Collector
}

// Peer is an established federation connection.
type Peer struct {
	InstanceID    string
	Address       string
	Direction     Direction
	EstablishedAt time.Time

	link Link
}

// Link returns the peer's connection.
func (p *Peer) Link() Link { return p.link }

type pendingInbound struct {
	link  Link
	timer *clock.Timer
}

// Manager owns the peer topology. It is not safe for concurrent use.
type Manager struct {
	ctx     context.Context
	cfg     Config
	log     *slog.Logger
	clock   clock.Clock
	post    func(func())
	dial    DialFunc
	hooks   Hooks
	metrics *metrics.Collector

	deny    DenyList
	closed  bool
	known   map[string]struct{}
	dialing map[string]struct{}
	self    map[string]struct{}
	inbound map[string]*pendingInbound // link id
	peers   map[string]*Peer           // link id
	routes  map[string]*Peer           // instance id
}

// New returns a manager. Dial goroutines stop retrying once ctx is done.
func New(ctx context.Context, opts Options) *Manager {
	cfg := opts.Config
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 1
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultHandshakeTimeout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:     ctx,
		cfg:     cfg,
		log:     logger.With("component", "peer"),
		clock:   clk,
		post:    opts.Post,
		dial:    opts.Dial,
		hooks:   opts.Hooks,
		metrics: opts.Metrics,
		known:   make(map[string]struct{}),
		dialing: make(map[string]struct{}),
		self:    make(map[string]struct{}),
		inbound: make(map[string]*pendingInbound),
		peers:   make(map[string]*Peer),
		routes:  make(map[string]*Peer),
	}
}

// Bootstrap dials every address from the static peer list.
func (m *Manager) Bootstrap(addrs []string) {
	if len(addrs) == 0 {
		m.log.Info("no bootstrap peers, running passive")
		return
	}
	for _, a := range addrs {
		if err := m.Dial(a); err != nil {
			m.log.Info("bootstrap peer skipped", "addr", a, "err", err)
		}
	}
}

// ReloadBootstrap dials addresses from a refreshed peer list. Established
// and in-flight addresses are left alone.
func (m *Manager) ReloadBootstrap(addrs []string) {
	for _, a := range addrs {
		if err := m.Dial(a); err != nil && !errors.Is(err, ErrAlreadyConnected) && !errors.Is(err, ErrDialPending) {
			m.log.Debug("reloaded peer skipped", "addr", a, "err", err)
		}
	}
}

// ReloadDenyList swaps the deny-list and closes established peers that now
// match it.
func (m *Manager) ReloadDenyList(entries []string) {
	m.deny = NewDenyList(entries)
	for _, p := range m.sortedRoutes() {
		if entry, hit := m.deny.Match(p.Address, p.link.RemoteHost()); hit {
			m.log.Warn("closing blacklisted peer", "instance", p.InstanceID, "addr", p.Address, "entry", entry)
			p.link.Close()
		}
	}
}

// Dial starts an outbound connection attempt to address.
func (m *Manager) Dial(address string) error {
	addr := netutil.NormalizeAddress(address)
	if m.closed {
		return ErrClosed
	}
	if addr == "" || netutil.Port(addr) == 0 {
		return &domain.OpError{Op: "dial", Target: address, Err: ErrInvalidAddress}
	}
	if _, isSelf := m.self[addr]; isSelf || netutil.IsSelfAddress(addr, m.cfg.AdvertiseAddr, m.cfg.Port) {
		m.metrics.Dial(dialRejected)
		return &domain.OpError{Op: "dial", Target: addr, Err: ErrSelfDial}
	}
	if entry, hit := m.deny.Match(addr); hit {
		m.metrics.Dial(dialRejected)
		return &domain.OpError{Op: "dial", Target: addr, Err: fmt.Errorf("%w: matches %q", domain.ErrPeerBlacklisted, entry)}
	}
	if _, busy := m.dialing[addr]; busy {
		return &domain.OpError{Op: "dial", Target: addr, Err: ErrDialPending}
	}
	if m.connected(addr) {
		return &domain.OpError{Op: "dial", Target: addr, Err: ErrAlreadyConnected}
	}
	m.known[addr] = struct{}{}
	m.dialing[addr] = struct{}{}
	go m.dialLoop(addr)
	return nil
}

func (m *Manager) connected(addr string) bool {
	for _, p := range m.routes {
		if p.Address == addr {
			return true
		}
	}
	return false
}

func (m *Manager) dialLoop(addr string) {
	hello := fedproto.Handshake{InstanceID: m.cfg.InstanceID, AdvertisedAddress: m.cfg.AdvertiseAddr}
	delay := m.cfg.DialBackoff
	var lastErr error
	attempts := 0
	for attempts < m.cfg.DialAttempts && m.ctx.Err() == nil {
		attempts++
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
		link, remoteID, err := m.dial(ctx, addr, hello)
		cancel()
		if err == nil {
			m.post(func() { m.outboundEstablished(addr, link, remoteID) })
			return
		}
		lastErr = err
		if errors.Is(err, ErrSelfDial) || attempts >= m.cfg.DialAttempts {
			break
		}
		select {
		case <-m.ctx.Done():
		case <-m.clock.After(delay):
		}
		delay = nextBackoff(delay)
	}
	m.post(func() { m.dialAbandoned(addr, attempts, lastErr) })
}

func (m *Manager) dialAbandoned(addr string, attempts int, err error) {
	delete(m.dialing, addr)
	m.metrics.Dial(dialFailed)
	if errors.Is(err, ErrSelfDial) {
		m.self[addr] = struct{}{}
		m.log.Info("peer address points at this instance", "addr", addr)
		return
	}
	m.log.Warn("peer dial abandoned", "addr", addr, "attempts", attempts, "err", err)
}

func (m *Manager) outboundEstablished(addr string, link Link, remoteID string) {
	delete(m.dialing, addr)
	if m.closed {
		link.Close()
		return
	}
	if entry, hit := m.deny.Match(addr, link.RemoteHost()); hit {
		m.log.Warn("dropping blacklisted peer", "addr", addr, "entry", entry)
		m.metrics.Dial(dialRejected)
		link.Close()
		return
	}
	if m.promote(link, remoteID, addr, Outbound) {
		m.metrics.Dial(dialEstablished)
		link.Start()
	}
}

// AcceptInbound registers an unclassified inbound link. It becomes a peer
// if a handshake arrives within HandshakeWait, otherwise a client.
func (m *Manager) AcceptInbound(link Link) {
	id := link.ID()
	in := &pendingInbound{link: link}
	in.timer = m.clock.AfterFunc(m.cfg.HandshakeWait, func() {
		m.post(func() { m.handshakeExpired(id) })
	})
	m.inbound[id] = in
}

func (m *Manager) handshakeExpired(id string) {
	in, ok := m.inbound[id]
	if !ok {
		return
	}
	delete(m.inbound, id)
	m.log.Debug("no handshake, treating connection as client", "link", id)
	m.classifyClient(in.link)
}

func (m *Manager) classifyClient(link Link) {
	if m.hooks.OnClient != nil {
		m.hooks.OnClient(link)
	}
}

// HandleFrame processes a frame from link. It reports false when the frame
// belongs to a client session and must be routed by the caller.
func (m *Manager) HandleFrame(link Link, msg fedproto.Message) bool {
	id := link.ID()
	if in, ok := m.inbound[id]; ok {
		switch {
		case msg.Kind == fedproto.KindHandshake:
			in.timer.Stop()
			delete(m.inbound, id)
			m.acceptHandshake(link, *msg.Handshake)
			return true
		case fedproto.IsSessionKind(msg.Kind):
			in.timer.Stop()
			delete(m.inbound, id)
			m.classifyClient(link)
			return false
		default:
			m.log.Debug("frame before handshake dropped", "link", id, "kind", msg.Kind)
			m.metrics.Dropped("pre_handshake")
			return true
		}
	}

	p, ok := m.peers[id]
	if !ok {
		return false
	}
	switch {
	case msg.Kind == fedproto.KindHandshake || msg.Kind == fedproto.KindHandshakeAck:
		m.log.Debug("repeated handshake ignored", "instance", p.InstanceID)
	case msg.Kind == fedproto.KindPeerListGossip:
		m.OnPeerListGossip(p.InstanceID, msg.Gossip.Addresses)
	case fedproto.IsPeerKind(msg.Kind):
		if m.hooks.OnPeerEvent != nil {
			m.hooks.OnPeerEvent(p.InstanceID, msg)
		}
	default:
		m.log.Debug("session frame from peer dropped", "instance", p.InstanceID, "kind", msg.Kind)
		m.metrics.Dropped("peer_session_kind")
	}
	return true
}

func (m *Manager) acceptHandshake(link Link, hs fedproto.Handshake) {
	adv := netutil.NormalizeAddress(hs.AdvertisedAddress)
	if entry, hit := m.deny.Match(adv, link.RemoteHost()); hit {
		m.log.Warn("rejecting blacklisted peer", "instance", hs.InstanceID, "addr", adv, "host", link.RemoteHost(), "entry", entry)
		m.metrics.Dropped("blacklisted")
		link.Close()
		return
	}
	if hs.InstanceID == m.cfg.InstanceID {
		// Acknowledge with our own id so the dialer learns the address is us.
		_ = link.Send(fedproto.Message{Kind: fedproto.KindHandshakeAck, HandshakeAck: &fedproto.HandshakeAck{InstanceID: m.cfg.InstanceID}})
		link.Close()
		return
	}
	if !domain.ValidInstanceID(hs.InstanceID) {
		m.log.Warn("rejecting handshake with invalid instance id", "instance", hs.InstanceID)
		link.Close()
		return
	}
	m.promote(link, hs.InstanceID, adv, Inbound)
}

// promote registers link as the peer connection for remoteID.
func (m *Manager) promote(link Link, remoteID, addr string, dir Direction) bool {
	if remoteID == m.cfg.InstanceID {
		link.Close()
		return false
	}
	p := &Peer{
		InstanceID:    remoteID,
		Address:       addr,
		Direction:     dir,
		EstablishedAt: m.clock.Now(),
		link:          link,
	}
	if cur, ok := m.routes[remoteID]; ok {
		if !m.prefer(p, cur) {
			m.log.Info("duplicate peer connection dropped", "instance", remoteID, "direction", dir)
			link.Close()
			return false
		}
		m.log.Info("duplicate peer connection replaced", "instance", remoteID, "direction", cur.Direction)
		delete(m.peers, cur.link.ID())
		cur.link.Close()
	}
	m.peers[link.ID()] = p
	m.routes[remoteID] = p
	if addr != "" {
		m.known[addr] = struct{}{}
	}
	m.metrics.SetPeers(len(m.routes))
	m.log.Info("peer established", "instance", remoteID, "addr", addr, "direction", dir)

	if dir == Inbound {
		_ = link.Send(fedproto.Message{Kind: fedproto.KindHandshakeAck, HandshakeAck: &fedproto.HandshakeAck{InstanceID: m.cfg.InstanceID}})
	}
	if m.hooks.OnEstablished != nil {
		m.hooks.OnEstablished(remoteID, link)
	}
	m.sendGossip(p)
	return true
}

// prefer decides which of two connections to the same instance survives.
// Both ends keep the connection opened by the smaller instance id; among
// connections opened by the same side the newest wins.
func (m *Manager) prefer(candidate, current *Peer) bool {
	if candidate.Direction == current.Direction {
		return true
	}
	opener := func(p *Peer) string {
		if p.Direction == Outbound {
			return m.cfg.InstanceID
		}
		return p.InstanceID
	}
	return opener(candidate) == min(m.cfg.InstanceID, candidate.InstanceID)
}

func (m *Manager) sendGossip(to *Peer) {
	addrs := make([]string, 0, len(m.routes))
	for _, p := range m.sortedRoutes() {
		if p == to || p.Address == "" {
			continue
		}
		addrs = append(addrs, p.Address)
	}
	_ = to.link.Send(fedproto.Message{Kind: fedproto.KindPeerListGossip, Gossip: &fedproto.Gossip{Addresses: addrs}})
}

// OnPeerListGossip dials gossiped addresses that are not self, blacklisted,
// in flight or already connected. It returns how many dials started.
func (m *Manager) OnPeerListGossip(from string, addrs []string) int {
	started := 0
	for _, a := range addrs {
		if err := m.Dial(a); err != nil {
			m.log.Debug("gossiped peer skipped", "from", from, "addr", a, "err", err)
			continue
		}
		m.log.Info("dialing gossiped peer", "from", from, "addr", a)
		started++
	}
	return started
}

// HandleDisconnect forgets link. It reports whether the link was a peer or
// an unclassified connection, as opposed to a client session.
func (m *Manager) HandleDisconnect(link Link) bool {
	id := link.ID()
	if in, ok := m.inbound[id]; ok {
		in.timer.Stop()
		delete(m.inbound, id)
		return true
	}
	p, ok := m.peers[id]
	if !ok {
		return false
	}
	delete(m.peers, id)
	if m.routes[p.InstanceID] == p {
		delete(m.routes, p.InstanceID)
		m.metrics.SetPeers(len(m.routes))
		m.log.Info("peer lost", "instance", p.InstanceID, "addr", p.Address)
		if m.hooks.OnLost != nil {
			m.hooks.OnLost(p.InstanceID)
		}
	}
	return true
}

// Route returns the connection to instanceID.
func (m *Manager) Route(instanceID string) (fedproto.Sender, bool) {
	p, ok := m.routes[instanceID]
	if !ok {
		return nil, false
	}
	return p.link, true
}

// Flood sends msg to every established peer and returns how many accepted it.
func (m *Manager) Flood(msg fedproto.Message) int {
	n := 0
	for _, p := range m.sortedRoutes() {
		if err := p.link.Send(msg); err != nil {
			m.log.Debug("flood send failed", "instance", p.InstanceID, "err", err)
			continue
		}
		n++
	}
	return n
}

// Established returns the current peers ordered by instance id.
func (m *Manager) Established() []Peer {
	out := make([]Peer, 0, len(m.routes))
	for _, p := range m.sortedRoutes() {
		out = append(out, *p)
	}
	return out
}

// Known returns every address the manager has dialed or accepted.
func (m *Manager) Known() []string {
	out := make([]string, 0, len(m.known))
	for a := range m.known {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Close stops accepting new peers and closes all connections.
func (m *Manager) Close() {
	m.closed = true
	for id, in := range m.inbound {
		in.timer.Stop()
		in.link.Close()
		delete(m.inbound, id)
	}
	for _, p := range m.peers {
		p.link.Close()
	}
}

func (m *Manager) sortedRoutes() []*Peer {
	out := make([]*Peer, 0, len(m.routes))
	for _, p := range m.routes {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Peer) int { return cmp.Compare(a.InstanceID, b.InstanceID) })
	return out
}
