// Package metrics exposes Prometheus counters/gauges for the server core:
// session, netchan, snapshot, VFS and anti-cheat bridge concerns.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quakecore/q2srv/internal/logging"
)

var (
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "challenges_issued_total",
		Help: "Total getchallenge responses sent.",
	})
	ConnectsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connects_accepted_total",
		Help: "Total connect OOB commands accepted into a session.",
	})
	ConnectsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connects_rejected_total",
		Help: "Total connect OOB commands rejected, by reason.",
	}, []string{"reason"})
	SessionDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_drops_total",
		Help: "Total client sessions dropped, by reason.",
	}, []string{"reason"})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_clients",
		Help: "Current number of clients not in the Free state.",
	})
	RateSuppressions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rate_suppressions_total",
		Help: "Total per-client frames suppressed by the rate limiter.",
	})
	SnapshotBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_bytes_total",
		Help: "Total bytes emitted by the snapshot builder across all clients.",
	})
	SnapshotZPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_zpackets_total",
		Help: "Total svc_zpacket frames sent (compressed snapshots).",
	})
	VFSCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vfs_cache_hits_total",
		Help: "Total path-cache hits (positive or negative).",
	})
	VFSCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vfs_cache_misses_total",
		Help: "Total path-cache misses requiring a search-path scan.",
	})
	VFSCacheFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vfs_cache_flushes_total",
		Help: "Total path-cache flushes (game-directory change or fsflushcache).",
	})
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_bytes_total",
		Help: "Total asset bytes shipped to clients via the download path.",
	})
	AntiCheatQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anticheat_queries_total",
		Help: "Total queries sent to the anti-cheat bridge.",
	})
	AntiCheatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anticheat_query_timeouts_total",
		Help: "Total anti-cheat queries that timed out (each one fails open).",
	})
	AntiCheatRTT = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anticheat_bridge_rtt_seconds",
		Help: "Last observed TCP_INFO RTT on the anti-cheat bridge socket.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem/classification.",
	}, []string{"where"})
	PacketDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "packet_drops_total",
		Help: "Total connectionless/sequenced packets silently dropped, by reason.",
	}, []string{"reason"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.Subsystem("metrics").Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Subsystem("metrics").Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheap to snapshot for periodic log lines without
// scraping Prometheus in-process.
var (
	localSessionDrops  uint64
	localRateSupp      uint64
	localSnapshotBytes uint64
	localDownloadBytes uint64
	localErrors        uint64
	localActiveClients uint64
	localVFSHits       uint64
	localVFSMisses     uint64
	localACQueries     uint64
)

type Snapshot struct {
	SessionDrops  uint64
	RateSupp      uint64
	SnapshotBytes uint64
	DownloadBytes uint64
	Errors        uint64
	ActiveClients uint64
	VFSHits       uint64
	VFSMisses     uint64
	ACQueries     uint64
}

func Snap() Snapshot {
	return Snapshot{
		SessionDrops:  atomic.LoadUint64(&localSessionDrops),
		RateSupp:      atomic.LoadUint64(&localRateSupp),
		SnapshotBytes: atomic.LoadUint64(&localSnapshotBytes),
		DownloadBytes: atomic.LoadUint64(&localDownloadBytes),
		Errors:        atomic.LoadUint64(&localErrors),
		ActiveClients: atomic.LoadUint64(&localActiveClients),
		VFSHits:       atomic.LoadUint64(&localVFSHits),
		VFSMisses:     atomic.LoadUint64(&localVFSMisses),
		ACQueries:     atomic.LoadUint64(&localACQueries),
	}
}

func IncSessionDrop(reason string) {
	SessionDrops.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localSessionDrops, 1)
}

func IncRateSuppress() {
	RateSuppressions.Inc()
	atomic.AddUint64(&localRateSupp, 1)
}

func AddSnapshotBytes(n int) {
	SnapshotBytes.Add(float64(n))
	atomic.AddUint64(&localSnapshotBytes, uint64(n))
}

func AddDownloadBytes(n int) {
	DownloadBytes.Add(float64(n))
	atomic.AddUint64(&localDownloadBytes, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncPacketDrop(reason string) { PacketDrops.WithLabelValues(reason).Inc() }

func SetActiveClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localActiveClients, uint64(n))
}

func IncVFSHit() {
	VFSCacheHits.Inc()
	atomic.AddUint64(&localVFSHits, 1)
}

func IncVFSMiss() {
	VFSCacheMisses.Inc()
	atomic.AddUint64(&localVFSMisses, 1)
}

func IncVFSFlush() { VFSCacheFlushes.Inc() }

func IncACQuery() {
	AntiCheatQueries.Inc()
	atomic.AddUint64(&localACQueries, 1)
}

func IncACTimeout() { AntiCheatTimeouts.Inc() }

func SetACRTT(seconds float64) { AntiCheatRTT.Set(seconds) }

func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
