package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/koltyakov/fedchat/internal/config"
	ilog "github.com/koltyakov/fedchat/internal/log"
	"github.com/koltyakov/fedchat/internal/server"
	"github.com/koltyakov/fedchat/internal/store/sqlite"
)

func runServer(ctx context.Context, args []string) int {
	loadServerEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel).With("instance_id", cfg.InstanceID)
	logger.Info("fedchat starting", "version", Version, "listen", cfg.Listen, "advertise", cfg.AdvertiseAddr)

	store, err := sqlite.OpenWithOptions(cfg.DBPath, sqlite.OpenOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	s := server.New(cfg, store, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
