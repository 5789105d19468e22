package fedproto

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrWSWriterClosed = errors.New("websocket writer closed")
var ErrWSWriterBackpressure = errors.New("websocket writer backpressure")

// WSWriter serializes websocket writes for one connection while letting
// control traffic overtake queued bulk messages. Send never blocks: a full
// queue closes the connection.
type WSWriter struct {
	writeFn      func(Message) error
	pingFn       func() error
	closeFn      func()
	high         chan Message
	low          chan Message
	stop         chan struct{}
	done         chan struct{}
	closed       atomic.Bool
	stopOnce     sync.Once
	closeOnce    sync.Once
	pingInterval time.Duration
}

// NewWSWriter starts a writer for conn. A zero pingInterval disables
// keepalive pings.
func NewWSWriter(conn *websocket.Conn, writeTimeout, pingInterval time.Duration, highCap, lowCap int) *WSWriter {
	return newWSWriter(func(msg Message) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(msg)
	}, func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	}, func() {
		_ = conn.Close()
	}, highCap, lowCap, pingInterval)
}

func newWSWriter(
	writeFn func(Message) error,
	pingFn func() error,
	closeFn func(),
	highCap, lowCap int,
	pingInterval time.Duration,
) *WSWriter {
	if highCap <= 0 {
		highCap = 1
	}
	if lowCap <= 0 {
		lowCap = 1
	}
	w := &WSWriter{
		writeFn:      writeFn,
		pingFn:       pingFn,
		closeFn:      closeFn,
		high:         make(chan Message, highCap),
		low:          make(chan Message, lowCap),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
	go w.run()
	return w
}

// Send queues msg for writing.
func (w *WSWriter) Send(msg Message) error {
	if w.closed.Load() {
		return ErrWSWriterClosed
	}
	target := w.low
	if msg.Priority() {
		target = w.high
	}
	select {
	case target <- msg:
		return nil
	default:
		w.fail()
		return ErrWSWriterBackpressure
	}
}

// Close flushes queued messages, stops the writer and closes the
// connection.
func (w *WSWriter) Close() {
	w.closed.Store(true)
	w.signalStop()
	<-w.done
	w.closeConn()
}

// Closed reports whether the writer stopped accepting messages.
func (w *WSWriter) Closed() bool {
	return w.closed.Load()
}

func (w *WSWriter) run() {
	defer close(w.done)

	var ping <-chan time.Time
	if w.pingInterval > 0 && w.pingFn != nil {
		ticker := time.NewTicker(w.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		var err error
		select {
		case msg := <-w.high:
			err = w.writeFn(msg)
		default:
			select {
			case <-w.stop:
				w.drain()
				return
			case msg := <-w.high:
				err = w.writeFn(msg)
			case msg := <-w.low:
				err = w.writeFn(msg)
			case <-ping:
				err = w.pingFn()
			}
		}
		if err != nil {
			w.fail()
			return
		}
	}
}

func (w *WSWriter) drain() {
	for _, q := range []chan Message{w.high, w.low} {
		for {
			select {
			case msg := <-q:
				if err := w.writeFn(msg); err != nil {
					return
				}
				continue
			default:
			}
			break
		}
	}
}

func (w *WSWriter) signalStop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

func (w *WSWriter) closeConn() {
	w.closeOnce.Do(func() {
		if w.closeFn != nil {
			w.closeFn()
		}
	})
}

func (w *WSWriter) fail() {
	if w.closed.Swap(true) {
		return
	}
	w.closeConn()
	w.signalStop()
}
