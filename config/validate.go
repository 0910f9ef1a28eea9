package config

import (
	"fmt"
	"strings"

	"delphor/native/common"
	"delphor/native/oracle"
)

var (
	MaxPriceDecimals = uint8(18)
)

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if _, err := oracle.ParseMode(c.Oracle.Mode); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if c.Oracle.PriceDecimals == 0 || c.Oracle.PriceDecimals > MaxPriceDecimals {
		return fmt.Errorf("oracle: PriceDecimals must be within 1..%d", MaxPriceDecimals)
	}
	if _, err := common.Pow10(c.Oracle.PriceDecimals); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if _, err := c.OracleSettings(); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if c.API.RateLimitPerSecond < 0 {
		return fmt.Errorf("api: RateLimitPerSecond < 0")
	}
	if c.API.RateLimitBurst < 0 {
		return fmt.Errorf("api: RateLimitBurst < 0")
	}
	if strings.TrimSpace(c.API.JWTSecretEnv) == "" {
		return fmt.Errorf("api: JWTSecretEnv must name an environment variable")
	}
	if c.API.AuthDisabled && !strings.EqualFold(strings.TrimSpace(c.Environment), "local") {
		return fmt.Errorf("api: AuthDisabled is only allowed in the local environment")
	}
	if (strings.TrimSpace(c.API.TLSCertFile) == "") != (strings.TrimSpace(c.API.TLSKeyFile) == "") {
		return fmt.Errorf("api: TLSCertFile and TLSKeyFile must be set together")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}
