package config

import (
	"fmt"
	"strings"
	"time"

	"delphor/crypto"
	"delphor/native/oracle"
)

// OracleSettings converts the oracle section into engine configuration.
func (c *Config) OracleSettings() (oracle.Config, error) {
	mode, err := oracle.ParseMode(c.Oracle.Mode)
	if err != nil {
		return oracle.Config{}, err
	}
	feeders := make([]crypto.Address, 0, len(c.Oracle.Feeders))
	for _, raw := range c.Oracle.Feeders {
		addr, err := crypto.DecodeAddressWithPrefix(strings.TrimSpace(raw), crypto.AccountPrefix)
		if err != nil {
			return oracle.Config{}, fmt.Errorf("invalid oracle.Feeders entry %q: %w", raw, err)
		}
		feeders = append(feeders, addr)
	}
	return oracle.Config{
		Mode:          mode,
		PriceDecimals: c.Oracle.PriceDecimals,
		MaxPriceAge:   time.Duration(c.Oracle.MaxPriceAgeSeconds) * time.Second,
		Feeders:       feeders,
	}, nil
}

// PausedModules lists the modules configured to start halted.
func (c *Config) PausedModules() []string {
	var out []string
	if c.Pauses.Oracle {
		out = append(out, "oracle")
	}
	if c.Pauses.Vault {
		out = append(out, "vault")
	}
	return out
}
