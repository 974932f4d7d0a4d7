package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/quakecore/q2srv/internal/config"
)

// cliConfig is the flag tier, the highest-priority layer on top of
// config.Default()/LoadFile/ApplyEnv: a default/file/env/flag precedence
// ladder driven by cobra/pflag instead of the stdlib flag package.
type cliConfig struct {
	config.Config

	configFile      string
	logMetricsEvery time.Duration
}

// bindServeFlags registers every serve-time flag on cmd and returns a
// closure that resolves the final layered config once cmd has parsed args.
func bindServeFlags(cmd *cobra.Command) func() (*cliConfig, error) {
	defaults := config.Default()

	var (
		configFile      string
		listenAddr      = defaults.ListenAddr
		maxClients      = defaults.MaxClients
		hostname        = defaults.Hostname
		gameDir         = defaults.GameDir
		baseDir         = defaults.BaseDir
		metricsAddr     = defaults.MetricsAddr
		heartbeat       = defaults.HeartbeatPeriod
		anticheatAddr   = defaults.AntiCheatAddr
		logFormat       = defaults.LogFormat
		logLevel        = defaults.LogLevel
		mdnsEnable      = defaults.AdvertiseMDNS
		ipLimit         = defaults.IPLimit
		serverPassword  = defaults.ServerPassword
		svMsecs         = defaults.SvMsecs
		zombieTime      = defaults.ZombieTime
		maxNetDrop      = defaults.MaxNetDrop
		nameStrictness  = defaults.NameStrictness
		logMetricsEvery time.Duration
	)

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.StringVar(&listenAddr, "listen", listenAddr, "UDP listen address")
	flags.IntVar(&maxClients, "max-clients", maxClients, "Maximum simultaneous clients")
	flags.StringVar(&hostname, "hostname", hostname, "Server hostname, reported in status/info responses")
	flags.StringVar(&gameDir, "game-dir", gameDir, "Game asset directory, overlaid on base-dir")
	flags.StringVar(&baseDir, "base-dir", baseDir, "Base asset directory")
	flags.StringVar(&metricsAddr, "metrics-addr", metricsAddr, "Metrics HTTP listen address (empty disables)")
	flags.DurationVar(&heartbeat, "heartbeat-period", heartbeat, "Master-server heartbeat interval")
	flags.StringVar(&anticheatAddr, "anticheat-addr", anticheatAddr, "Anti-cheat bridge TCP address (empty disables)")
	flags.StringVar(&logFormat, "log-format", logFormat, "Log format: text|json")
	flags.StringVar(&logLevel, "log-level", logLevel, "Log level: debug|info|warn|error")
	flags.BoolVar(&mdnsEnable, "mdns-enable", mdnsEnable, "Enable mDNS/Avahi advertisement")
	flags.DurationVar(&logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	flags.IntVar(&ipLimit, "ip-limit", ipLimit, "Maximum concurrent connections sharing a base IP (0 disables)")
	flags.StringVar(&serverPassword, "server-password", serverPassword, "Required connect password (empty disables)")
	flags.IntVar(&svMsecs, "sv-msecs", svMsecs, "Per-tick usercmd.msec budget granted to a spawned client")
	flags.DurationVar(&zombieTime, "zombie-time", zombieTime, "Grace period a dropped session stays reserved before its slot is freed")
	flags.IntVar(&maxNetDrop, "max-netdrop", maxNetDrop, "Maximum buffered usercmds replayed to cover packet loss")
	flags.IntVar(&nameStrictness, "name-strictness", nameStrictness, "0 = permissive name validation, >0 also rejects ^-digit color codes")

	return func() (*cliConfig, error) {
		cfg := config.Default()
		if err := config.LoadFile(&cfg, configFile); err != nil {
			return nil, err
		}
		if err := config.ApplyEnv(&cfg); err != nil {
			return nil, err
		}

		if flags.Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if flags.Changed("max-clients") {
			cfg.MaxClients = maxClients
		}
		if flags.Changed("hostname") {
			cfg.Hostname = hostname
		}
		if flags.Changed("game-dir") {
			cfg.GameDir = gameDir
		}
		if flags.Changed("base-dir") {
			cfg.BaseDir = baseDir
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr = metricsAddr
		}
		if flags.Changed("heartbeat-period") {
			cfg.HeartbeatPeriod = heartbeat
		}
		if flags.Changed("anticheat-addr") {
			cfg.AntiCheatAddr = anticheatAddr
		}
		if flags.Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("mdns-enable") {
			cfg.AdvertiseMDNS = mdnsEnable
		}
		if flags.Changed("ip-limit") {
			cfg.IPLimit = ipLimit
		}
		if flags.Changed("server-password") {
			cfg.ServerPassword = serverPassword
		}
		if flags.Changed("sv-msecs") {
			cfg.SvMsecs = svMsecs
		}
		if flags.Changed("zombie-time") {
			cfg.ZombieTime = zombieTime
		}
		if flags.Changed("max-netdrop") {
			cfg.MaxNetDrop = maxNetDrop
		}
		if flags.Changed("name-strictness") {
			cfg.NameStrictness = nameStrictness
		}

		return &cliConfig{Config: cfg, configFile: configFile, logMetricsEvery: logMetricsEvery}, nil
	}
}
