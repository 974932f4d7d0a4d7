package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quakecore/q2srv/internal/challenge"
	"github.com/quakecore/q2srv/internal/client"
	"github.com/quakecore/q2srv/internal/gamerules"
	"github.com/quakecore/q2srv/internal/metrics"
	"github.com/quakecore/q2srv/internal/netio"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
	}
	resolve := bindServeFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := resolve()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runServe(cfg)
	}
	return cmd
}

func runServe(cfg *cliConfig) error {
	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	fs, watcher, err := initVFS(cfg, l)
	if err != nil {
		return fmt.Errorf("vfs init: %w", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	st, err := initStore(cfg, l)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer st.Close()

	sock, err := netio.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer sock.Close()

	clients := client.NewTable(cfg.MaxClients)
	challenges := challenge.New()
	gm := gamerules.NewStub(1024)

	bridge := initAntiCheat(ctx, cfg, l)
	if bridge != nil {
		defer bridge.Close()
	}

	srv := initWorld(cfg, sock, clients, challenges, gm, fs, st)

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	go func() {
		if err := srv.Run(ctx); err != nil {
			l.Error("world_run_error", "error", err)
			cancel()
		}
	}()

	go advertiseMDNS(ctx, cfg, l)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(buildVersion, buildCommit, buildDate)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
	return nil
}

func advertiseMDNS(ctx context.Context, cfg *cliConfig, l *slog.Logger) {
	if !cfg.AdvertiseMDNS {
		return
	}
	port := portFromAddr(cfg.ListenAddr)
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "port", port)
	go func() { <-ctx.Done(); cleanup() }()
}

func portFromAddr(listenAddr string) int {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err == nil {
		if p, convErr := strconv.Atoi(portStr); convErr == nil {
			return p
		}
	}
	if i := strings.LastIndex(listenAddr, ":"); i >= 0 {
		if p, convErr := strconv.Atoi(listenAddr[i+1:]); convErr == nil {
			return p
		}
	}
	return 0
}
