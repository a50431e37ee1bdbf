package config

// RPC configures the JSON-RPC listener and its middleware.
type RPC struct {
	ListenAddress string `toml:"ListenAddress"`
	// JWTSecretEnv names the environment variable holding the HS256 secret.
	// Bearer auth is disabled when empty.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
	// RateLimitPerSecond is the sustained request rate per client; zero
	// disables limiting.
	RateLimitPerSecond       float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst           int     `toml:"RateLimitBurst"`
	ReadHeaderTimeoutSeconds int     `toml:"ReadHeaderTimeoutSeconds"`
	ReadTimeoutSeconds       int     `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds      int     `toml:"WriteTimeoutSeconds"`
	IdleTimeoutSeconds       int     `toml:"IdleTimeoutSeconds"`
	MaxBodyBytes             int64   `toml:"MaxBodyBytes"`
	EventBuffer              int     `toml:"EventBuffer"`
	// AllowedOrigins feeds CORS and the websocket origin check. Empty allows
	// any origin.
	AllowedOrigins []string `toml:"AllowedOrigins"`
	LogRequests    bool     `toml:"LogRequests"`
}

// Log configures the structured logger.
type Log struct {
	Level       string `toml:"Level"`
	Environment string `toml:"Environment"`
	File        string `toml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
	MaxAgeDays  int    `toml:"MaxAgeDays"`
	Compress    bool   `toml:"Compress"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Archive configures the persistent audit trail of ledger events.
type Archive struct {
	Enabled bool `toml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Webhook configures outbound delivery of ledger events.
type Webhook struct {
	Endpoint string `toml:"Endpoint"`
	// SecretEnv names the environment variable holding the HMAC secret.
	SecretEnv   string   `toml:"SecretEnv"`
	EventTypes  []string `toml:"EventTypes"`
	MaxAttempts int      `toml:"MaxAttempts"`
	QueueSize   int      `toml:"QueueSize"`
}

// Enabled reports whether an endpoint is configured.
func (w Webhook) Enabled() bool { return w.Endpoint != "" }
