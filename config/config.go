package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"delphor/crypto"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddress = ":8080"
	defaultDataDir       = "./delphor-data"
	defaultEnvironment   = "local"
)

type Config struct {
	ListenAddress              string    `toml:"ListenAddress"`
	DataDir                    string    `toml:"DataDir"`
	Environment                string    `toml:"Environment"`
	AdminKeystorePath          string    `toml:"AdminKeystorePath"`
	AdminKeystorePassphraseEnv string    `toml:"AdminKeystorePassphraseEnv"`
	AdminAddress               string    `toml:"AdminAddress"`
	Logging                    Logging   `toml:"logging"`
	Oracle                     Oracle    `toml:"oracle"`
	API                        API       `toml:"api"`
	Pauses                     Pauses    `toml:"pauses"`
	Telemetry                  Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path. A default file and a
// fresh admin keystore are written when path does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "AdminKey" {
			return nil, fmt.Errorf("config file %s embeds a raw AdminKey; move it into a keystore and set AdminKeystorePath", path)
		}
	}

	if strings.TrimSpace(cfg.AdminAddress) == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaultEnvironment
	}
	if strings.TrimSpace(c.Oracle.Mode) == "" {
		c.Oracle.Mode = "windowed"
	}
	if c.Oracle.PriceDecimals == 0 {
		c.Oracle.PriceDecimals = 9
	}
	if c.Oracle.Feeders == nil {
		c.Oracle.Feeders = []string{}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = 20
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 40
	}
	if strings.TrimSpace(c.API.JWTSecretEnv) == "" {
		c.API.JWTSecretEnv = "DELPHOR_JWT_SECRET"
	}
	if strings.TrimSpace(c.API.JWTIssuer) == "" {
		c.API.JWTIssuer = "delphor"
	}
	if c.API.ReadTimeoutSeconds == 0 {
		c.API.ReadTimeoutSeconds = 15
	}
	if c.API.WriteTimeoutSeconds == 0 {
		c.API.WriteTimeoutSeconds = 15
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "delphord"
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, os.Getenv(cfg.AdminKeystorePassphraseEnv)); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AdminKeystorePath != keystorePath {
		cfg.AdminKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:     defaultListenAddress,
		DataDir:           defaultDataDir,
		Environment:       defaultEnvironment,
		AdminKeystorePath: keystorePath,
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
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

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}

// ResolveAdmin returns the registry admin identity: AdminAddress when set,
// otherwise the address of the admin keystore.
func (c *Config) ResolveAdmin() (crypto.Address, error) {
	return c.ResolveAdminWith(func() (string, error) {
		return os.Getenv(c.AdminKeystorePassphraseEnv), nil
	})
}

// ResolveAdminWith is ResolveAdmin with the keystore passphrase supplied by
// passphrase. It is not consulted when AdminAddress is set.
func (c *Config) ResolveAdminWith(passphrase func() (string, error)) (crypto.Address, error) {
	if raw := strings.TrimSpace(c.AdminAddress); raw != "" {
		return crypto.DecodeAddressWithPrefix(raw, crypto.AccountPrefix)
	}
	secret, err := passphrase()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(c.AdminKeystorePath, secret)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("load admin keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}
