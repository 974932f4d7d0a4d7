package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quakecore/q2srv/internal/anticheat"
	"github.com/quakecore/q2srv/internal/challenge"
	"github.com/quakecore/q2srv/internal/client"
	"github.com/quakecore/q2srv/internal/config"
	"github.com/quakecore/q2srv/internal/dispatch"
	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/netio"
	"github.com/quakecore/q2srv/internal/store"
	"github.com/quakecore/q2srv/internal/vfs"
	"github.com/quakecore/q2srv/internal/world"
)

// initVFS builds the search-path stack (base dir first, then the game
// directory overlaid on top) and wraps it with a file-watcher so a live
// asset change flushes the path cache.
func initVFS(cfg *cliConfig, l *slog.Logger) (*vfs.FS, *vfs.Watcher, error) {
	search := vfs.NewSearchPath()
	search.PushDirectory(cfg.BaseDir)
	search.MarkBase()
	if cfg.GameDir != "" && cfg.GameDir != cfg.BaseDir {
		search.PushDirectory(cfg.GameDir)
	}
	fs := vfs.New(search)
	w, err := vfs.Watch(fs)
	if err != nil {
		l.Warn("vfs_watch_failed", "error", err)
		return fs, nil, nil
	}
	return fs, w, nil
}

func initStore(cfg *cliConfig, l *slog.Logger) (*store.Store, error) {
	path := cfg.BaseDir + "/q2srv.db"
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	l.Info("store_opened", "path", path)
	return st, nil
}

func initAntiCheat(ctx context.Context, cfg *cliConfig, l *slog.Logger) *anticheat.Bridge {
	if cfg.AntiCheatAddr == "" {
		return nil
	}
	bridge, err := anticheat.Dial(ctx, cfg.AntiCheatAddr, 3*time.Second)
	if err != nil {
		l.Warn("anticheat_dial_failed", "addr", cfg.AntiCheatAddr, "error", err)
		return nil
	}
	l.Info("anticheat_connected", "addr", cfg.AntiCheatAddr)
	return bridge
}

func initWorld(cfg *cliConfig, sock *netio.Socket, clients *client.Table, challenges *challenge.Table, gm gamerules.Game, fs *vfs.FS, st *store.Store) *world.Server {
	rconHash := cfg.RconPasswordHash
	return world.New(sock, clients, challenges,
		world.WithListenAddr(cfg.ListenAddr),
		world.WithMaxClients(cfg.MaxClients),
		world.WithHostname(cfg.Hostname),
		world.WithHeartbeatPeriod(cfg.HeartbeatPeriod),
		world.WithGameRules(gm),
		world.WithFS(fs),
		world.WithBanPolicy(st),
		world.WithRconAuth(func(plain string) bool { return config.CheckPassword(rconHash, plain) }),
		world.WithRconLog(func(remote string, success bool) { _ = st.LogRconAttempt(remote, success) }),
		world.WithGameDir(cfg.GameDir),
		world.WithIPLimit(cfg.IPLimit),
		world.WithServerPassword(cfg.ServerPassword),
		world.WithSvMsecs(cfg.SvMsecs),
		world.WithZombieTime(cfg.ZombieTime),
		world.WithMaxNetDrop(cfg.MaxNetDrop),
		world.WithNameStrictness(cfg.NameStrictness),
	)
}
