package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"escrowledger/storage"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.DBBackend != storage.BackendLevelDB {
		t.Fatalf("unexpected backend %q", cfg.DBBackend)
	}
	if cfg.BlockInterval() != time.Second {
		t.Fatalf("unexpected block interval %s", cfg.BlockInterval())
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPC.ListenAddress != cfg.RPC.ListenAddress {
		t.Fatalf("listen address changed across reload: %q vs %q", reloaded.RPC.ListenAddress, cfg.RPC.ListenAddress)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `DataDir = "/var/lib/escrow"
DBBackend = "Bolt"
GenesisFile = "genesis.yaml"
BlockIntervalMillis = 250

[RPC]
ListenAddress = "0.0.0.0:9000"
JWTSecretEnv = "ESCROW_JWT"
RateLimitPerSecond = 5
RateLimitBurst = 10

[Log]
Level = "debug"
File = "/var/log/escrowd.log"

[Telemetry]
Traces = true
SampleRatio = 0.25
Headers = "x-api-key=abc"

[Archive]
Enabled = true

[Webhook]
Endpoint = "https://hooks.example.com/escrow"
SecretEnv = "ESCROW_HOOK_SECRET"
EventTypes = ["escrow.released", "escrow.refunded"]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBBackend != storage.BackendBolt {
		t.Fatalf("backend not normalised: %q", cfg.DBBackend)
	}
	if cfg.BlockInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected interval %s", cfg.BlockInterval())
	}
	if cfg.RPC.JWTSecretEnv != "ESCROW_JWT" || cfg.RPC.RateLimitBurst != 10 {
		t.Fatalf("rpc section not decoded: %+v", cfg.RPC)
	}
	if cfg.RPC.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default body limit, got %d", cfg.RPC.MaxBodyBytes)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "/var/log/escrowd.log" {
		t.Fatalf("log section not decoded: %+v", cfg.Log)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("telemetry section not decoded: %+v", cfg.Telemetry)
	}
	if cfg.Archive.Driver != ArchiveDriverSQLite || cfg.Archive.DSN != filepath.Join("/var/lib/escrow", "archive.db") {
		t.Fatalf("archive defaults not applied: %+v", cfg.Archive)
	}
	if !cfg.Webhook.Enabled() || len(cfg.Webhook.EventTypes) != 2 {
		t.Fatalf("webhook section not decoded: %+v", cfg.Webhook)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("DataDir = \"x\"\nValidatorKey = \"deadbeef\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":     func(c *Config) { c.DBBackend = "rocksdb" },
		"interval":    func(c *Config) { c.BlockIntervalMillis = -1 },
		"listen":      func(c *Config) { c.RPC.ListenAddress = " " },
		"burst":       func(c *Config) { c.RPC.RateLimitBurst = 0 },
		"body":        func(c *Config) { c.RPC.MaxBodyBytes = 0 },
		"sample":      func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"driver":      func(c *Config) { c.Archive.Enabled = true; c.Archive.Driver = "mysql" },
		"postgresDSN": func(c *Config) { c.Archive.Enabled = true; c.Archive.Driver = ArchiveDriverPostgres },
		"dataDir":     func(c *Config) { c.DataDir = "" },
		"hookURL":     func(c *Config) { c.Webhook.Endpoint = "ftp://x"; c.Webhook.SecretEnv = "S" },
		"hookSecret":  func(c *Config) { c.Webhook.Endpoint = "https://x" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
