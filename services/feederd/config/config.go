package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for feederd.
type Config struct {
	DatabasePath string       `yaml:"database"`
	Node         NodeConfig   `yaml:"node"`
	Feeder       FeederConfig `yaml:"feeder"`
	Symbols      []string     `yaml:"symbols"`
	Sources      []Source     `yaml:"sources"`
	Log          LogConfig    `yaml:"log"`
}

// NodeConfig locates the delphord API the observations are posted to.
type NodeConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	// TokenEnv names a variable holding a ready-made bearer token.
	TokenEnv string `yaml:"token_env"`
	// SecretEnv names a variable holding the node's JWT secret. When set,
	// feederd mints its own short-lived tokens for Address.
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	Address   string   `yaml:"address"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// FeederConfig tunes the polling loop.
type FeederConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	// MinPriceVariation is the percent move against the last published
	// price below which an observation is withheld.
	MinPriceVariation float64 `yaml:"min_price_variation"`
	// Heartbeat forces a publish once the last one is older than this,
	// regardless of variation. Zero disables it.
	Heartbeat Duration `yaml:"heartbeat"`
	MinFeeds  int      `yaml:"min_feeds"`
	// Retention bounds how long raw samples are kept. Zero keeps them.
	Retention Duration `yaml:"retention"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
	// PricePath is the dotted path to the price in a json source response.
	PricePath     string  `yaml:"price_path"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LogConfig mirrors the node's logging knobs.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/feederd.sqlite"
	}
	if cfg.Node.Endpoint == "" {
		cfg.Node.Endpoint = "http://127.0.0.1:8080"
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 10 * time.Second
	}
	if cfg.Node.TokenTTL.Duration == 0 {
		cfg.Node.TokenTTL.Duration = 5 * time.Minute
	}
	if cfg.Feeder.Interval.Duration == 0 {
		cfg.Feeder.Interval.Duration = 30 * time.Second
	}
	if cfg.Feeder.MaxAge.Duration == 0 {
		cfg.Feeder.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Feeder.MinFeeds <= 0 {
		cfg.Feeder.MinFeeds = 1
	}
	for i := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(cfg.Symbols[i]))
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].RatePerSecond <= 0 {
			cfg.Sources[i].RatePerSecond = 1
		}
		if cfg.Sources[i].Burst <= 0 {
			cfg.Sources[i].Burst = 1
		}
	}
}

func validate(cfg Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		if symbol == "" {
			return fmt.Errorf("symbols must not be blank")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("duplicate symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one price source must be configured")
	}
	// The node stores at most five readings per observation.
	if len(cfg.Sources) > 5 {
		return fmt.Errorf("at most 5 price sources may be configured, got %d", len(cfg.Sources))
	}
	names := make(map[string]struct{}, len(cfg.Sources))
	for _, src := range cfg.Sources {
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if name == "" {
			return fmt.Errorf("source name required")
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("duplicate source %s", name)
		}
		names[name] = struct{}{}
		if strings.EqualFold(strings.TrimSpace(src.Type), "json") && strings.TrimSpace(src.PricePath) == "" {
			return fmt.Errorf("source %s: price_path required for json sources", src.Name)
		}
	}
	if cfg.Feeder.MinFeeds > len(cfg.Sources) {
		return fmt.Errorf("min_feeds %d exceeds %d configured sources", cfg.Feeder.MinFeeds, len(cfg.Sources))
	}
	if cfg.Feeder.MinPriceVariation < 0 || cfg.Feeder.MinPriceVariation > 100 {
		return fmt.Errorf("min_price_variation must be within [0, 100]")
	}
	if cfg.Node.TokenEnv == "" && cfg.Node.SecretEnv == "" {
		return fmt.Errorf("node.token_env or node.secret_env must be configured")
	}
	if cfg.Node.SecretEnv != "" && strings.TrimSpace(cfg.Node.Address) == "" {
		return fmt.Errorf("node.address required when minting tokens from node.secret_env")
	}
	return nil
}
