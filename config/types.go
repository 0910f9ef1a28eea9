package config

// Logging controls log output. An empty File logs to stdout only.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Oracle tunes price aggregation.
type Oracle struct {
	Mode               string   `toml:"Mode"`
	PriceDecimals      uint8    `toml:"PriceDecimals"`
	MaxPriceAgeSeconds uint64   `toml:"MaxPriceAgeSeconds"`
	Feeders            []string `toml:"Feeders"`
}

// API configures the HTTP gateway.
type API struct {
	JWTSecretEnv        string   `toml:"JWTSecretEnv"`
	JWTIssuer           string   `toml:"JWTIssuer"`
	JWTAudience         string   `toml:"JWTAudience"`
	RateLimitPerSecond  float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst      int      `toml:"RateLimitBurst"`
	ReadTimeoutSeconds  int      `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int      `toml:"WriteTimeoutSeconds"`
	CORSOrigins         []string `toml:"CORSOrigins,omitempty"`
	// AuthDisabled trusts every request as the admin. Only honoured in the
	// local environment.
	AuthDisabled bool   `toml:"AuthDisabled"`
	LogRequests  bool   `toml:"LogRequests"`
	TLSCertFile  string `toml:"TLSCertFile"`
	TLSKeyFile   string `toml:"TLSKeyFile"`
}

// Pauses lists modules halted at startup.
type Pauses struct {
	Oracle bool `toml:"Oracle"`
	Vault  bool `toml:"Vault"`
}

// Telemetry configures OpenTelemetry export. An empty endpoint disables it.
type Telemetry struct {
	ServiceName  string            `toml:"ServiceName"`
	OTLPEndpoint string            `toml:"OTLPEndpoint"`
	Insecure     bool              `toml:"Insecure"`
	Headers      map[string]string `toml:"Headers,omitempty"`
	Metrics      bool              `toml:"Metrics"`
	Traces       bool              `toml:"Traces"`
}
