package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"escrowledger/storage"
)

type Config struct {
	DataDir             string `toml:"DataDir"`
	DBBackend           string `toml:"DBBackend"`
	GenesisFile         string `toml:"GenesisFile"`
	NetworkName         string `toml:"NetworkName"`
	BlockIntervalMillis int64  `toml:"BlockIntervalMillis"`
	AllowMigrate        bool   `toml:"AllowMigrate"`

	RPC       RPC       `toml:"RPC"`
	Log       Log       `toml:"Log"`
	Telemetry Telemetry `toml:"Telemetry"`
	Archive   Archive   `toml:"Archive"`
	Webhook   Webhook   `toml:"Webhook"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:             "./escrow-data",
		DBBackend:           storage.BackendLevelDB,
		NetworkName:         "escrow-local",
		BlockIntervalMillis: 1000,
		RPC: RPC{
			ListenAddress:            "127.0.0.1:8545",
			RateLimitPerSecond:       20,
			RateLimitBurst:           40,
			ReadHeaderTimeoutSeconds: 5,
			ReadTimeoutSeconds:       15,
			WriteTimeoutSeconds:      15,
			IdleTimeoutSeconds:       60,
			MaxBodyBytes:             1 << 20,
			EventBuffer:              128,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Archive: Archive{
			Driver: ArchiveDriverSQLite,
		},
	}
	return cfg
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = def.NetworkName
	}
	c.DBBackend = strings.ToLower(strings.TrimSpace(c.DBBackend))
	if c.DBBackend == "" {
		c.DBBackend = def.DBBackend
	}
	if c.BlockIntervalMillis == 0 {
		c.BlockIntervalMillis = def.BlockIntervalMillis
	}
	if c.RPC.ListenAddress == "" {
		c.RPC.ListenAddress = def.RPC.ListenAddress
	}
	if c.RPC.ReadHeaderTimeoutSeconds == 0 {
		c.RPC.ReadHeaderTimeoutSeconds = def.RPC.ReadHeaderTimeoutSeconds
	}
	if c.RPC.ReadTimeoutSeconds == 0 {
		c.RPC.ReadTimeoutSeconds = def.RPC.ReadTimeoutSeconds
	}
	if c.RPC.WriteTimeoutSeconds == 0 {
		c.RPC.WriteTimeoutSeconds = def.RPC.WriteTimeoutSeconds
	}
	if c.RPC.IdleTimeoutSeconds == 0 {
		c.RPC.IdleTimeoutSeconds = def.RPC.IdleTimeoutSeconds
	}
	if c.RPC.MaxBodyBytes == 0 {
		c.RPC.MaxBodyBytes = def.RPC.MaxBodyBytes
	}
	if c.RPC.EventBuffer == 0 {
		c.RPC.EventBuffer = def.RPC.EventBuffer
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = def.Telemetry.Endpoint
	}
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	if c.Archive.Driver == "" {
		c.Archive.Driver = def.Archive.Driver
	}
	if c.Archive.Enabled && c.Archive.Driver == ArchiveDriverSQLite && c.Archive.DSN == "" {
		c.Archive.DSN = filepath.Join(c.DataDir, "archive.db")
	}
}

// BlockInterval returns the logical clock tick as a duration.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMillis) * time.Millisecond
}

// Seconds converts a whole-second setting to a duration.
func Seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
