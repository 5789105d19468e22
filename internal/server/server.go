// Package server hosts one fedchat instance: it accepts WebSocket
// connections from clients and peers, runs the event loop that owns all
// chat state, and drives persistence, list reloads and presence pruning.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/fedchat/internal/censor"
	"github.com/koltyakov/fedchat/internal/config"
	"github.com/koltyakov/fedchat/internal/debughttp"
	"github.com/koltyakov/fedchat/internal/dm"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/guild"
	"github.com/koltyakov/fedchat/internal/metrics"
	"github.com/koltyakov/fedchat/internal/peer"
	"github.com/koltyakov/fedchat/internal/persist"
	"github.com/koltyakov/fedchat/internal/presence"
	"github.com/koltyakov/fedchat/internal/router"
	"github.com/koltyakov/fedchat/internal/store/sqlite"
)

const (
	wsPath            = "/ws"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	taskQueueSize     = 1024
)

type Server struct {
	cfg     config.ServerConfig
	store   *sqlite.Store
	log     *slog.Logger
	clock   clock.Clock
	metrics *metrics.Collector

	tasks chan func()
	done  chan struct{}

	// Links that exist but have not been started on the loop yet. The loop
	// closes them on exit and no new ones are admitted afterwards.
	admitMu   sync.Mutex
	unstarted map[string]*wsLink
	admitDone bool

	// Owned by the event loop once Serve starts.
	links  map[string]*wsLink
	peers  *peer.Manager
	router *router.Router

	persist *persist.Writer
}

func New(cfg config.ServerConfig, store *sqlite.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		log:     logger,
		clock:   clock.New(),
		metrics: metrics.New("fedchat"),
		tasks:   make(chan func(), taskQueueSize),
		done:    make(chan struct{}),
		links:   make(map[string]*wsLink),

		unstarted: make(map[string]*wsLink),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve restores persisted state, bootstraps the peer mesh and serves
// connections on ln until ctx is done. A Server serves at most once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	state, skipped, err := s.store.LoadState(ctx)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("load state: %w", err)
	}
	for _, doc := range skipped {
		s.log.Warn("skipped undecodable state document", "doc", doc)
	}
	lists, err := config.LoadLists(s.cfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("load lists: %w", err)
	}

	pprofLn, err := debughttp.Listen(s.cfg.PprofListen)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("pprof listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	s.wire(gctx, state, lists)
	s.log.Info("instance starting",
		"instance_id", s.cfg.InstanceID,
		"listen", ln.Addr().String(),
		"guilds", len(state.Guilds),
		"conversations", len(state.Conversations),
		"bootstrap_peers", len(lists.Peers),
	)

	// The final flush must see every save, so persistence stops only after
	// the loop has exited.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()

	g.Go(func() error {
		defer stopPersist()
		return s.loop(gctx)
	})
	g.Go(func() error { return s.persist.Run(persistCtx) })
	g.Go(func() error {
		s.runJanitor(gctx)
		return nil
	})
	if pprofLn != nil {
		g.Go(func() error { return debughttp.Serve(gctx, pprofLn, s.log) })
	}
	if s.cfg.WatchLists {
		g.Go(func() error {
			if err := config.NewListWatcher(s.cfg, s.log, s.onListChange).Run(gctx); err != nil {
				s.log.Warn("list watcher stopped", "err", err)
			}
			return nil
		})
	}

	httpServer := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdownServer(httpServer, shutdownTimeout)
	})

	err = g.Wait()
	s.log.Info("instance stopped", "instance_id", s.cfg.InstanceID)
	return err
}

// wire builds the stores, router and peer manager and queues the initial
// list application and bootstrap dials on the loop.
func (s *Server) wire(ctx context.Context, state sqlite.State, lists config.Lists) {
	s.persist = persist.New(s.store, s.log.With("component", "persist"), s.clock, s.cfg.FlushInterval)
	s.persist.OnFlush = s.metrics.Flushed

	guilds := guild.New()
	guilds.Restore(state.Guilds)
	dms := dm.New()
	dms.Restore(state.Conversations)

	s.peers = peer.New(ctx, peer.Options{
		Config: peer.Config{
			InstanceID:    s.cfg.InstanceID,
			AdvertiseAddr: s.cfg.AdvertiseAddr,
			Port:          s.cfg.Port,
			HandshakeWait: s.cfg.HandshakeWait,
			DialTimeout:   s.cfg.DialTimeout,
			DialAttempts:  s.cfg.DialAttempts,
			DialBackoff:   s.cfg.DialBackoff,
		},
		Logger:  s.log,
		Clock:   s.clock,
		Post:    s.post,
		Dial:    s.dialPeer,
		Metrics: s.metrics,
		Hooks: peer.Hooks{
			OnEstablished: func(id string, link peer.Link) { s.router.PeerEstablished(id, link) },
			OnLost:        func(id string) { s.router.PeerLost(id) },
			OnClient:      func(link peer.Link) { s.router.Connect(link.ID(), link) },
			OnPeerEvent:   func(id string, msg fedproto.Message) { s.router.HandlePeer(id, msg) },
		},
	})
	s.router = router.New(router.Options{
		InstanceID: s.cfg.InstanceID,
		Logger:     s.log,
		Clock:      s.clock,
		Directory:  presence.New(s.cfg.InstanceID),
		Guilds:     guilds,
		DMs:        dms,
		Censor:     censor.New(lists.Words),
		Peers:      s.peers,
		Persister:  s.persist,
		Metrics:    s.metrics,
	})
	s.router.RestoreGlobal(state.Global)

	s.post(func() {
		s.peers.ReloadDenyList(lists.DenyList)
		s.peers.Bootstrap(lists.Peers)
	})
}

// onListChange runs on the watcher goroutine.
func (s *Server) onListChange(kind config.ListKind, entries []string) {
	s.post(func() {
		switch kind {
		case config.ListDeny:
			s.peers.ReloadDenyList(entries)
		case config.ListPeers:
			s.peers.ReloadBootstrap(entries)
		case config.ListWords:
			s.router.SetWords(entries)
		}
		s.log.Info("list reloaded", "list", string(kind), "entries", len(entries))
	})
	s.metrics.Reloaded(string(kind))
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
