// Package config loads server configuration from, in ascending priority,
// built-in defaults, a YAML file, environment variables, and command-line
// flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the server needs at startup.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MaxClients      int           `yaml:"max_clients"`
	Hostname        string        `yaml:"hostname"`
	GameDir         string        `yaml:"game_dir"`
	BaseDir         string        `yaml:"base_dir"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	RconPasswordHash string       `yaml:"rcon_password_hash"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	AntiCheatAddr   string        `yaml:"anticheat_addr"`
	LogFormat       string        `yaml:"log_format"`
	LogLevel        string        `yaml:"log_level"`
	AdvertiseMDNS   bool          `yaml:"advertise_mdns"`

	IPLimit        int           `yaml:"sv_iplimit"`
	ServerPassword string        `yaml:"server_password"`
	SvMsecs        int           `yaml:"sv_msecs"`
	ZombieTime     time.Duration `yaml:"zombie_time"`
	MaxNetDrop     int           `yaml:"sv_max_netdrop"`
	NameStrictness int           `yaml:"name_strictness"`
}

// Default returns the built-in baseline configuration.
func Default() Config {
	return Config{
		ListenAddr:      ":27910",
		MaxClients:      64,
		Hostname:        "q2srv",
		GameDir:         "baseq2",
		BaseDir:         ".",
		MetricsAddr:     ":9100",
		HeartbeatPeriod: 300 * time.Second,
		LogFormat:       "text",
		LogLevel:        "info",
		AdvertiseMDNS:   true,
		SvMsecs:         100,
		ZombieTime:      2 * time.Second,
		MaxNetDrop:      3,
	}
}

// LoadFile merges a YAML file's contents into c (present keys only).
func LoadFile(c *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// envPrefix namespaces every environment-variable override.
const envPrefix = "Q2SRV_"

// ApplyEnv overrides c's fields from Q2SRV_* environment variables, the
// middle tier between the YAML file and explicit flags.
func ApplyEnv(c *Config) error {
	if v, ok := os.LookupEnv(envPrefix + "LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "MAX_CLIENTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_CLIENTS: %w", envPrefix, err)
		}
		c.MaxClients = n
	}
	if v, ok := os.LookupEnv(envPrefix + "HOSTNAME"); ok {
		c.Hostname = v
	}
	if v, ok := os.LookupEnv(envPrefix + "GAME_DIR"); ok {
		c.GameDir = v
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "ANTICHEAT_ADDR"); ok {
		c.AntiCheatAddr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

// HashPassword bcrypt-hashes a plaintext rcon or server password for
// storage in the config file.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("config: hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether plain matches the stored bcrypt hash.
func CheckPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// validLogFormats/validLogLevels bound the enum-like string fields.
var (
	validLogFormats = map[string]bool{"text": true, "json": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks range and enum constraints, returning every violation
// joined together so an operator sees all of them in one pass instead of
// fixing and re-running one error at a time.
func (c Config) Validate() error {
	var errs []error
	if c.MaxClients <= 0 || c.MaxClients > 256 {
		errs = append(errs, fmt.Errorf("max_clients must be in (0, 256], got %d", c.MaxClients))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen_addr must not be empty"))
	}
	if c.HeartbeatPeriod <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_period must be positive, got %s", c.HeartbeatPeriod))
	}
	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}
