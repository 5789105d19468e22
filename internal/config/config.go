// Package config parses fedchat server settings from flags and FEDCHAT_*
// environment variables, and loads the line-oriented list files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/fedchat/internal/domain"
)

type ServerConfig struct {
	Listen          string
	Port            int
	InstanceID      string
	AdvertiseAddr   string
	DBPath          string
	DBMaxOpenConns  int
	LogLevel        string
	DenyListFile    string
	PeerListFile    string
	WordListFile    string
	WatchLists      bool
	HandshakeWait   time.Duration
	DialTimeout     time.Duration
	DialAttempts    int
	DialBackoff     time.Duration
	PresenceTimeout time.Duration
	PruneInterval   time.Duration
	FlushInterval   time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
	PprofListen     string
}

const defaultServerListen = ":3001"
const defaultServerDBPath = "./fedchat.db"
const defaultDenyListFile = "./config/instance_blacklist.txt"
const defaultPeerListFile = "./config/peer_list.txt"
const defaultWordListFile = "./config/word_blacklist.txt"
const defaultHandshakeWait = 2 * time.Second
const defaultDialTimeout = 5 * time.Second
const defaultDialAttempts = 3
const defaultDialBackoff = 500 * time.Millisecond
const defaultPresenceTimeout = 10 * time.Minute
const defaultPruneInterval = 5 * time.Minute
const defaultFlushInterval = 2 * time.Second
const defaultPingInterval = 25 * time.Second
const defaultPongWait = 60 * time.Second
const defaultWriteTimeout = 10 * time.Second
const defaultSendQueue = 256

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:          envOrDefault("FEDCHAT_LISTEN", defaultServerListen),
		InstanceID:      envOrDefault("FEDCHAT_INSTANCE_ID", ""),
		AdvertiseAddr:   envOrDefault("FEDCHAT_ADVERTISE_ADDR", ""),
		DBPath:          envOrDefault("FEDCHAT_DB_PATH", defaultServerDBPath),
		DBMaxOpenConns:  envIntOrDefault("FEDCHAT_DB_MAX_OPEN_CONNS", 4),
		LogLevel:        envOrDefault("FEDCHAT_LOG_LEVEL", "info"),
		DenyListFile:    envOrDefault("FEDCHAT_DENY_LIST", defaultDenyListFile),
		PeerListFile:    envOrDefault("FEDCHAT_PEER_LIST", defaultPeerListFile),
		WordListFile:    envOrDefault("FEDCHAT_WORD_LIST", defaultWordListFile),
		WatchLists:      envBoolOrDefault("FEDCHAT_WATCH_LISTS", true),
		HandshakeWait:   envDurationOrDefault("FEDCHAT_HANDSHAKE_WAIT", defaultHandshakeWait),
		DialTimeout:     envDurationOrDefault("FEDCHAT_DIAL_TIMEOUT", defaultDialTimeout),
		DialAttempts:    envIntOrDefault("FEDCHAT_DIAL_ATTEMPTS", defaultDialAttempts),
		DialBackoff:     defaultDialBackoff,
		PresenceTimeout: envDurationOrDefault("FEDCHAT_PRESENCE_TIMEOUT", defaultPresenceTimeout),
		PruneInterval:   envDurationOrDefault("FEDCHAT_PRUNE_INTERVAL", defaultPruneInterval),
		FlushInterval:   envDurationOrDefault("FEDCHAT_FLUSH_INTERVAL", defaultFlushInterval),
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteTimeout:    defaultWriteTimeout,
		SendQueue:       defaultSendQueue,
		PprofListen:     envOrDefault("FEDCHAT_PPROF_LISTEN", ""),
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP/WebSocket listen address")
	fs.StringVar(&cfg.InstanceID, "instance-id", cfg.InstanceID, "Stable instance id (default instance_at_<port>)")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "Address peers use to reach this instance (default localhost:<port>)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "SQLite max open connections")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.DenyListFile, "deny-list", cfg.DenyListFile, "Instance deny-list file")
	fs.StringVar(&cfg.PeerListFile, "peer-list", cfg.PeerListFile, "Bootstrap peer list file")
	fs.StringVar(&cfg.WordListFile, "word-list", cfg.WordListFile, "Censored word list file")
	fs.BoolVar(&cfg.WatchLists, "watch-lists", cfg.WatchLists, "Reload list files when they change")
	fs.DurationVar(&cfg.HandshakeWait, "handshake-wait", cfg.HandshakeWait, "How long an inbound socket may take to identify as a peer")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Per-attempt peer dial and handshake timeout")
	fs.IntVar(&cfg.DialAttempts, "dial-attempts", cfg.DialAttempts, "Peer dial attempts before giving up")
	fs.DurationVar(&cfg.PresenceTimeout, "presence-timeout", cfg.PresenceTimeout, "Age after which remote presence entries are pruned")
	fs.DurationVar(&cfg.PruneInterval, "prune-interval", cfg.PruneInterval, "Presence pruning interval")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "Write-behind flush interval")
	fs.StringVar(&cfg.PprofListen, "pprof", cfg.PprofListen, "Optional pprof listen address (e.g. 127.0.0.1:6060)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	port, err := listenPort(cfg.Listen)
	if err != nil {
		return cfg, err
	}
	cfg.Port = port
	cfg.InstanceID = strings.TrimSpace(cfg.InstanceID)
	if cfg.InstanceID == "" {
		cfg.InstanceID = domain.DefaultInstanceID(port)
	}
	if !domain.ValidInstanceID(cfg.InstanceID) {
		return cfg, errors.New("instance id must not contain '@' or '|'")
	}
	cfg.AdvertiseAddr = strings.TrimSpace(cfg.AdvertiseAddr)
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = net.JoinHostPort("localhost", strconv.Itoa(port))
	}
	if cfg.HandshakeWait <= 0 {
		return cfg, errors.New("handshake wait must be > 0")
	}
	if cfg.DialTimeout <= 0 {
		return cfg, errors.New("dial timeout must be > 0")
	}
	if cfg.DialAttempts <= 0 {
		return cfg, errors.New("dial attempts must be > 0")
	}
	if cfg.PresenceTimeout <= 0 {
		return cfg, errors.New("presence timeout must be > 0")
	}
	if cfg.PruneInterval <= 0 {
		return cfg, errors.New("prune interval must be > 0")
	}
	if cfg.FlushInterval <= 0 {
		return cfg, errors.New("flush interval must be > 0")
	}
	if cfg.DBMaxOpenConns <= 0 {
		return cfg, errors.New("db max open conns must be > 0")
	}

	return cfg, nil
}

func listenPort(listen string) (int, error) {
	_, p, err := net.SplitHostPort(strings.TrimSpace(listen))
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen port must be between 1 and 65535, got %q", p)
	}
	return port, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
