package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quakecore/q2srv/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"session_drops", snap.SessionDrops,
					"rate_suppressions", snap.RateSupp,
					"snapshot_bytes", snap.SnapshotBytes,
					"download_bytes", snap.DownloadBytes,
					"errors", snap.Errors,
					"active_clients", snap.ActiveClients,
					"vfs_hits", snap.VFSHits,
					"vfs_misses", snap.VFSMisses,
					"anticheat_queries", snap.ACQueries,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
