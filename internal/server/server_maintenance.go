package server

import "context"

// runJanitor prunes remote presence entries that have not been refreshed
// within PresenceTimeout.
func (s *Server) runJanitor(ctx context.Context) {
	if s.cfg.PruneInterval <= 0 || s.cfg.PresenceTimeout <= 0 {
		return
	}
	ticker := s.clock.Ticker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.post(func() {
				if n := s.router.Prune(s.cfg.PresenceTimeout); n > 0 {
					s.log.Info("pruned stale presence", "entries", n)
				}
			})
		}
	}
}
