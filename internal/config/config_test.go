package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(flags(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TsharkPath != "/usr/bin/tshark" || cfg.ParsePolicy != PolicyAbort {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DBPath != filepath.Join("data", "packets.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.TrendWindow != 300 || cfg.StorageFlushInterval != 100*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SHARKLINE_DATA_DIR", "/var/lib/sharkline")
	t.Setenv("SHARKLINE_PARSE_POLICY", "skip")
	cfg, err := Load(flags(t, "--data-dir", "/tmp/x"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/x" {
		t.Errorf("DataDir = %q, flag should win", cfg.DataDir)
	}
	if cfg.ParsePolicy != PolicySkip {
		t.Errorf("ParsePolicy = %q, env should apply", cfg.ParsePolicy)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sharkline.yaml")
	os.WriteFile(path, []byte("tshark_path: /opt/tshark\ntrend_window: 60\n"), 0o644)
	cfg, err := Load(flags(t, "--config", path))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TsharkPath != "/opt/tshark" || cfg.TrendWindow != 60 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestRejectsUnknownPolicy(t *testing.T) {
	if _, err := Load(flags(t, "--parse-policy", "ignore")); err == nil {
		t.Error("expected an error")
	}
}
