// Package config loads sharkline settings from flags, environment
// (SHARKLINE_*) and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Parse failure policies.
const (
	PolicyAbort = "abort"
	PolicySkip  = "skip"
)

// Config is the resolved, read-only configuration.
type Config struct {
	TsharkPath           string
	GeoDB                string
	DataDir              string
	DBPath               string
	TrendDB              string
	CaptureFile          string
	LogLevel             string
	LogFile              string
	ParsePolicy          string
	CapturePollTimeout   time.Duration
	StorageFlushInterval time.Duration
	TrendWindow          int
}

// RegisterFlags adds the global flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("tshark", "/usr/bin/tshark", "path to the tshark binary")
	fs.String("geo-db", "", "GeoLite2 City database")
	fs.String("data-dir", "data", "directory for databases and capture files")
	fs.String("db", "", "packet database (default <data-dir>/packets.db)")
	fs.String("trend-db", "", "flow trend archive (default <data-dir>/trend.db)")
	fs.String("capture-file", "", "live capture output (default <data-dir>/capture.pcap)")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", "", "also write JSON logs to this file")
	fs.String("parse-policy", PolicyAbort, "on a malformed tshark line: abort or skip")
	fs.Duration("capture-poll-timeout", time.Second, "live capture readiness wait")
	fs.Duration("storage-flush-interval", 100*time.Millisecond, "how often captured records are written to the database")
	fs.Int("trend-window", 300, "seconds kept per interface by the flow monitor")
}

var flagKeys = map[string]string{
	"tshark_path":            "tshark",
	"geo_db":                 "geo-db",
	"data_dir":               "data-dir",
	"db_path":                "db",
	"trend_db":               "trend-db",
	"capture_file":           "capture-file",
	"log_level":              "log-level",
	"log_file":               "log-file",
	"parse_policy":           "parse-policy",
	"capture_poll_timeout":   "capture-poll-timeout",
	"storage_flush_interval": "storage-flush-interval",
	"trend_window":           "trend-window",
}

// Load resolves the configuration for the flags registered on fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHARKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range flagKeys {
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: bind %s: %w", flag, err)
			}
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", f.Value.String(), err)
		}
	}

	cfg := &Config{
		TsharkPath:           v.GetString("tshark_path"),
		GeoDB:                v.GetString("geo_db"),
		DataDir:              v.GetString("data_dir"),
		DBPath:               v.GetString("db_path"),
		TrendDB:              v.GetString("trend_db"),
		CaptureFile:          v.GetString("capture_file"),
		LogLevel:             v.GetString("log_level"),
		LogFile:              v.GetString("log_file"),
		ParsePolicy:          strings.ToLower(v.GetString("parse_policy")),
		CapturePollTimeout:   v.GetDuration("capture_poll_timeout"),
		StorageFlushInterval: v.GetDuration("storage_flush_interval"),
		TrendWindow:          v.GetInt("trend_window"),
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "packets.db")
	}
	if cfg.TrendDB == "" {
		cfg.TrendDB = filepath.Join(cfg.DataDir, "trend.db")
	}
	if cfg.CaptureFile == "" {
		cfg.CaptureFile = filepath.Join(cfg.DataDir, "capture.pcap")
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.ParsePolicy {
	case PolicyAbort, PolicySkip:
	default:
		return fmt.Errorf("config: parse_policy %q: want %s or %s", c.ParsePolicy, PolicyAbort, PolicySkip)
	}
	if c.TrendWindow <= 0 {
		return fmt.Errorf("config: trend_window must be positive, got %d", c.TrendWindow)
	}
	if c.CapturePollTimeout <= 0 {
		return fmt.Errorf("config: capture_poll_timeout must be positive")
	}
	if c.StorageFlushInterval <= 0 {
		return fmt.Errorf("config: storage_flush_interval must be positive")
	}
	return nil
}
