package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("FEDCHAT_LISTEN", "")
	t.Setenv("FEDCHAT_INSTANCE_ID", "")
	t.Setenv("FEDCHAT_ADVERTISE_ADDR", "")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 3001 {
		t.Fatalf("expected port 3001, got %d", cfg.Port)
	}
	if cfg.InstanceID != "instance_at_3001" {
		t.Fatalf("unexpected instance id %q", cfg.InstanceID)
	}
	if cfg.AdvertiseAddr != "localhost:3001" {
		t.Fatalf("unexpected advertise address %q", cfg.AdvertiseAddr)
	}
	if cfg.HandshakeWait != 2*time.Second || cfg.DialAttempts != 3 || cfg.PresenceTimeout != 10*time.Minute {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
}

func TestParseServerFlagsOverrides(t *testing.T) {
	t.Setenv("FEDCHAT_INSTANCE_ID", "from-env")

	cfg, err := ParseServerFlags([]string{"--listen", "127.0.0.1:4000", "--advertise", "chat.example:4000", "--dial-attempts", "5"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InstanceID != "from-env" || cfg.Port != 4000 || cfg.AdvertiseAddr != "chat.example:4000" || cfg.DialAttempts != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseServerFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad listen", []string{"--listen", "nope"}},
		{"bad port", []string{"--listen", ":70000"}},
		{"instance with at", []string{"--instance-id", "a@b"}},
		{"zero attempts", []string{"--dial-attempts", "0"}},
		{"zero handshake", []string{"--handshake-wait", "0s"}},
		{"stray args", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseServerFlags(tt.args); err == nil {
				t.Fatalf("expected parse error for args: %v", tt.args)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()

	in := "# comment\n\n  Evil.Example  \nevil.example\nother:3002\n"
	got, err := ParseList(strings.NewReader(in), true)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"evil.example", "other:3002"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}

	got, err = ParseList(strings.NewReader("Peer.Local:3002\n"), false)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "Peer.Local:3002" {
		t.Fatalf("expected case preserved, got %v", got)
	}
}

func TestReadListMissingFile(t *testing.T) {
	t.Parallel()

	got, err := ReadList(filepath.Join(t.TempDir(), "absent.txt"), true)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestLoadLists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := ServerConfig{
		DenyListFile: filepath.Join(dir, "deny.txt"),
		PeerListFile: filepath.Join(dir, "peers.txt"),
		WordListFile: filepath.Join(dir, "words.txt"),
	}
	writeFile(t, cfg.DenyListFile, "BAD.host\n")
	writeFile(t, cfg.PeerListFile, "localhost:3002\n# off\n")

	lists, err := LoadLists(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(lists.DenyList) != 1 || lists.DenyList[0] != "bad.host" {
		t.Fatalf("unexpected deny list %v", lists.DenyList)
	}
	if len(lists.Peers) != 1 || len(lists.Words) != 0 {
		t.Fatalf("unexpected lists %+v", lists)
	}
}

func TestListWatcherReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := ServerConfig{WordListFile: filepath.Join(dir, "words.txt")}
	writeFile(t, cfg.WordListFile, "one\n")

	got := make(chan []string, 4)
	w := NewListWatcher(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), func(kind ListKind, entries []string) {
		if kind == ListWords {
			got <- entries
		}
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case entries := <-got:
			if len(entries) == 2 && entries[1] == "two" {
				cancel()
				if err := <-done; err != nil {
					t.Fatal(err)
				}
				return
			}
		case <-tick.C:
			writeFile(t, cfg.WordListFile, "one\nTWO\n")
		case <-deadline:
			t.Fatal("watcher did not report the change")
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
