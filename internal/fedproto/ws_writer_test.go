package fedproto

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWSWriterPrioritizesControlMessages(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	order := make([]string, 0, 3)

	w := newWSWriter(func(msg Message) error {
		if msg.Kind == KindGlobalChatMessage && msg.Notice != nil && msg.Notice.Message == "first" {
			close(started)
			<-release
		}
		label := msg.Kind
		if msg.Notice != nil {
			label = msg.Notice.Message
		}
		mu.Lock()
		order = append(order, label)
		mu.Unlock()
		return nil
	}, nil, func() {}, 4, 4, 0)

	if err := w.Send(Message{Kind: KindGlobalChatMessage, Notice: &Notice{Message: "first"}}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := w.Send(Message{Kind: KindGlobalChatMessage, Notice: &Notice{Message: "second"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Send(Message{Kind: KindHandshakeAck}); err != nil {
		t.Fatal(err)
	}
	close(release)
	w.Close()

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()

	want := []string{"first", KindHandshakeAck, "second"}
	if len(got) != len(want) {
		t.Fatalf("unexpected write order: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected write order: got %v want %v", got, want)
		}
	}
}

func TestWSWriterCloseRejectsNewWrites(t *testing.T) {
	t.Parallel()

	closed := 0
	w := newWSWriter(func(Message) error { return nil }, nil, func() { closed++ }, 1, 1, 0)
	w.Close()
	w.Close()

	if err := w.Send(Message{Kind: KindError}); !errors.Is(err, ErrWSWriterClosed) {
		t.Fatalf("expected ErrWSWriterClosed, got %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected single close, got %d", closed)
	}
}

func TestWSWriterBackpressureClosesConnection(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	closedCh := make(chan struct{})
	w := newWSWriter(func(Message) error {
		<-block
		return nil
	}, nil, func() { close(closedCh) }, 1, 1, 0)
	defer close(block)

	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = w.Send(Message{Kind: KindGlobalChatMessage})
	}
	if !errors.Is(err, ErrWSWriterBackpressure) {
		t.Fatalf("expected backpressure, got %v", err)
	}
	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected connection close on backpressure")
	}
	if !w.Closed() {
		t.Fatal("expected writer to be closed")
	}
}

func TestWSWriterWriteErrorStops(t *testing.T) {
	t.Parallel()

	closedCh := make(chan struct{})
	w := newWSWriter(func(Message) error {
		return errors.New("broken pipe")
	}, nil, func() { close(closedCh) }, 1, 1, 0)

	if err := w.Send(Message{Kind: KindError}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected close after write error")
	}
}
