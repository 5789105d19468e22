package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/koltyakov/fedchat/internal/versionutil"
)

func printUsage() {
	fmt.Println(`fedchat - federated real-time chat server

Each instance hosts its own users, guilds and direct messages and peers with
other instances over WebSocket to relay chat, DMs, call signaling and presence.

Usage:
  fedchat [flags]                       Start a chat instance (same as "fedchat server")
  fedchat server [flags]                Start a chat instance
  fedchat version                       Print version
  fedchat help                          Show this help

Server Flags:
  --listen ADDR            HTTP/WebSocket listen address (default :3001)
  --instance-id ID         Stable instance id (default instance_at_<port>)
  --advertise ADDR         Address peers use to reach this instance
  --db PATH                SQLite database path (default ./fedchat.db)
  --peer-list FILE         Bootstrap peer list (default ./config/peer_list.txt)
  --deny-list FILE         Instance deny-list (default ./config/instance_blacklist.txt)
  --word-list FILE         Censored words (default ./config/word_blacklist.txt)
  --watch-lists            Reload list files when they change (default true)
  --pprof ADDR             Serve pprof on ADDR (disabled by default)

Environment Variables:
  FEDCHAT_LISTEN            Listen address
  FEDCHAT_INSTANCE_ID       Instance id
  FEDCHAT_ADVERTISE_ADDR    Advertised peer address
  FEDCHAT_DB_PATH           SQLite database path
  FEDCHAT_LOG_LEVEL         Log level: debug|info|warn|error (default: info)
  FEDCHAT_PEER_LIST         Bootstrap peer list file
  FEDCHAT_DENY_LIST         Instance deny-list file
  FEDCHAT_WORD_LIST         Censored word list file

Values in ./.env are loaded for FEDCHAT_* variables that are not already set.`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	Version = versionutil.Normalize(Version)
}

func printVersion() {
	fmt.Println("fedchat", Version)
}
