package server

import (
	"context"
	"errors"
)

var errStopped = errors.New("server stopped")

// loop runs posted tasks one at a time. Peer topology, presence, sessions,
// guilds and DMs are only touched from here.
func (s *Server) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.peers.Close()
			s.closeLinks()
			return nil
		case fn := <-s.tasks:
			fn()
		}
	}
}

// closeLinks closes every started link and every link still waiting to be
// started, and refuses links created afterwards.
func (s *Server) closeLinks() {
	s.admitMu.Lock()
	s.admitDone = true
	pending := s.unstarted
	s.unstarted = make(map[string]*wsLink)
	s.admitMu.Unlock()

	for _, l := range pending {
		l.Close()
	}
	for id, l := range s.links {
		l.Close()
		delete(s.links, id)
	}
}

// post queues fn on the event loop. It is safe from any goroutine and
// discards fn once the loop has stopped.
func (s *Server) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// call runs fn on the event loop and waits for it to finish.
func (s *Server) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	s.post(func() {
		fn()
		close(finished)
	})
	select {
	case <-finished:
		return nil
	case <-s.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
