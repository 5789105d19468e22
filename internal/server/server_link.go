package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/netutil"
	"github.com/koltyakov/fedchat/internal/peer"
)

const linkReadLimit = 1 << 20

// wsLink is one WebSocket connection, either a client session or a peer.
// Writes go through a WSWriter so Send never blocks the event loop.
type wsLink struct {
	id     string
	host   string
	conn   *websocket.Conn
	writer *fedproto.WSWriter
	srv    *Server

	startOnce sync.Once
}

// newLink wraps conn and tracks it until Start. Once the loop has stopped
// the connection is closed and errStopped returned.
func (s *Server) newLink(conn *websocket.Conn) (*wsLink, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.admitDone {
		_ = conn.Close()
		return nil, errStopped
	}
	queue := max(s.cfg.SendQueue, 1)
	l := &wsLink{
		id:     domain.NewID("conn"),
		host:   netutil.NormalizeHost(conn.RemoteAddr().String()),
		conn:   conn,
		writer: fedproto.NewWSWriter(conn, s.cfg.WriteTimeout, s.cfg.PingInterval, max(queue/4, 1), queue),
		srv:    s,
	}
	s.unstarted[l.id] = l
	return l, nil
}

func (s *Server) forget(id string) {
	s.admitMu.Lock()
	delete(s.unstarted, id)
	s.admitMu.Unlock()
}

func (l *wsLink) ID() string         { return l.id }
func (l *wsLink) RemoteHost() string { return l.host }

func (l *wsLink) Send(msg fedproto.Message) error {
	err := l.writer.Send(msg)
	if errors.Is(err, fedproto.ErrWSWriterBackpressure) {
		l.srv.metrics.Dropped("backpressure")
		l.srv.log.Warn("send queue full, closing connection", "link", l.id, "kind", msg.Kind)
	}
	return err
}

// Start registers the link with the loop and begins reading. It must be
// called on the event loop.
func (l *wsLink) Start() {
	l.startOnce.Do(func() {
		l.srv.forget(l.id)
		l.srv.links[l.id] = l
		go l.readPump()
	})
}

// Close returns immediately; queued frames are flushed and the socket closed
// in the background so a stalled peer cannot hold up the loop.
func (l *wsLink) Close() {
	l.srv.forget(l.id)
	go l.writer.Close()
}

func (l *wsLink) readPump() {
	defer l.srv.post(func() { l.srv.onDisconnect(l) })

	pongWait := l.srv.cfg.PongWait
	l.conn.SetReadLimit(linkReadLimit)
	extend := func() error {
		if pongWait <= 0 {
			return nil
		}
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	_ = extend()
	l.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !l.writer.Closed() {
				l.srv.log.Debug("connection read ended", "link", l.id, "err", err)
			}
			return
		}
		_ = extend()
		msg, err := fedproto.Decode(data)
		if err != nil {
			l.srv.post(func() { l.srv.onMalformed(l, err) })
			continue
		}
		l.srv.post(func() { l.srv.onFrame(l, msg) })
	}
}

func (s *Server) onFrame(l *wsLink, msg fedproto.Message) {
	if s.peers.HandleFrame(l, msg) {
		return
	}
	s.router.HandleSession(l.id, msg)
}

// onMalformed answers client sessions with an error; peers and unclassified
// connections never receive error frames.
func (s *Server) onMalformed(l *wsLink, err error) {
	s.metrics.Dropped("malformed")
	if !s.router.RejectFrame(l.id, err) {
		s.log.Debug("malformed frame dropped", "link", l.id, "err", err)
	}
}

func (s *Server) onDisconnect(l *wsLink) {
	delete(s.links, l.id)
	l.Close()
	if !s.peers.HandleDisconnect(l) {
		s.router.Disconnect(l.id)
	}
}

// dialPeer opens an outbound federation link. It runs on a dial goroutine.
func (s *Server) dialPeer(ctx context.Context, address string, hello fedproto.Handshake) (peer.Link, string, error) {
	conn, remoteID, err := peer.DialWebSocket(ctx, address, wsPath, hello)
	if err != nil {
		return nil, "", err
	}
	link, err := s.newLink(conn)
	if err != nil {
		return nil, "", err
	}
	return link, remoteID, nil
}
