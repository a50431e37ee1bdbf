package config

import (
	"fmt"
	"strings"

	"escrowledger/storage"
)

const (
	ArchiveDriverSQLite   = "sqlite"
	ArchiveDriverPostgres = "postgres"
)

// Validate checks ranges and enumerations after defaults are applied.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.DataDir) == "" && c.DBBackend != storage.BackendMemory {
		return fmt.Errorf("config: DataDir required for %s backend", c.DBBackend)
	}
	switch c.DBBackend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: unsupported DBBackend %q", c.DBBackend)
	}
	if c.BlockIntervalMillis <= 0 {
		return fmt.Errorf("config: BlockIntervalMillis must be positive")
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		return fmt.Errorf("rpc: ListenAddress required")
	}
	if c.RPC.RateLimitPerSecond < 0 {
		return fmt.Errorf("rpc: RateLimitPerSecond must not be negative")
	}
	if c.RPC.RateLimitPerSecond > 0 && c.RPC.RateLimitBurst <= 0 {
		return fmt.Errorf("rpc: RateLimitBurst must be positive when rate limiting is on")
	}
	if c.RPC.MaxBodyBytes <= 0 {
		return fmt.Errorf("rpc: MaxBodyBytes must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case ArchiveDriverSQLite, ArchiveDriverPostgres:
		default:
			return fmt.Errorf("archive: unsupported Driver %q", c.Archive.Driver)
		}
		if strings.TrimSpace(c.Archive.DSN) == "" {
			return fmt.Errorf("archive: DSN required")
		}
	}
	if c.Webhook.Enabled() {
		if !strings.HasPrefix(c.Webhook.Endpoint, "http://") && !strings.HasPrefix(c.Webhook.Endpoint, "https://") {
			return fmt.Errorf("webhook: Endpoint must be an http(s) URL")
		}
		if strings.TrimSpace(c.Webhook.SecretEnv) == "" {
			return fmt.Errorf("webhook: SecretEnv required")
		}
		if c.Webhook.MaxAttempts < 0 || c.Webhook.QueueSize < 0 {
			return fmt.Errorf("webhook: MaxAttempts and QueueSize must not be negative")
		}
	}
	return nil
}
