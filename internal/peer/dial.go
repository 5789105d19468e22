package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
)

const defaultHandshakeTimeout = 5 * time.Second
const maxDialBackoff = 10 * time.Second
const peerReadLimit = 1 << 20

// ErrSelfDial means the dialed address answered with this instance's id.
var ErrSelfDial = errors.New("address belongs to this instance")

// DialWebSocket connects to ws://address/path, sends hello and waits for the
// handshake acknowledgment. It returns the connection, ready for pumps, and
// the remote instance id.
func DialWebSocket(ctx context.Context, address, path string, hello fedproto.Handshake) (*websocket.Conn, string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHandshakeTimeout)
	}
	dialer := websocket.Dialer{HandshakeTimeout: time.Until(deadline)}
	target := url.URL{Scheme: "ws", Host: address, Path: path}
	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, "", handshakeError(address, fmt.Errorf("ws connect: %w", err))
	}
	conn.SetReadLimit(peerReadLimit)

	remoteID, err := exchangeHandshake(conn, deadline, hello)
	if err != nil {
		_ = conn.Close()
		return nil, "", handshakeError(address, err)
	}
	return conn, remoteID, nil
}

func exchangeHandshake(conn *websocket.Conn, deadline time.Time, hello fedproto.Handshake) (string, error) {
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(fedproto.Message{Kind: fedproto.KindHandshake, Handshake: &hello}); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}
	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read handshake ack: %w", err)
	}
	msg, err := fedproto.Decode(data)
	if err != nil {
		return "", err
	}
	if msg.Kind != fedproto.KindHandshakeAck {
		return "", fmt.Errorf("unexpected %q before handshake ack", msg.Kind)
	}
	remoteID := msg.HandshakeAck.InstanceID
	if remoteID == hello.InstanceID {
		return "", ErrSelfDial
	}
	if !domain.ValidInstanceID(remoteID) {
		return "", fmt.Errorf("invalid instance id %q", remoteID)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return remoteID, nil
}

func handshakeError(address string, err error) error {
	return &domain.OpError{
		Op:     "peer handshake",
		Target: address,
		Err:    fmt.Errorf("%w: %w", domain.ErrPeerHandshakeFailed, err),
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		current = 250 * time.Millisecond
	}
	next := min(current*2, maxDialBackoff)
	jitter := 1.0 + (rand.Float64()-0.5)*0.5 // range [0.75, 1.25]
	return time.Duration(float64(next) * jitter)
}
