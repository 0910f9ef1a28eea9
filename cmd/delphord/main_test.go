package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"delphor/config"
	"delphor/crypto"
)

func TestRunTokenSignsFeederToken(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	t.Setenv("DELPHOR_JWT_SECRET", "token-test-secret")

	raw := make([]byte, crypto.AddressLength)
	raw[0] = 9
	feeder := crypto.NewAddress(crypto.AccountPrefix, raw)

	var out bytes.Buffer
	if err := runToken([]string{"-config", cfgPath, "-subject", feeder.String(), "-scope", "feeder, admin", "-ttl", "1h"}, &out); err != nil {
		t.Fatalf("run token: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("token-test-secret"), nil
	}, jwt.WithIssuer(cfg.API.JWTIssuer), jwt.WithExpirationRequired())
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if sub, _ := claims.GetSubject(); sub != feeder.String() {
		t.Fatalf("subject %q, want %s", sub, feeder)
	}
	if claims["scope"] != "feeder admin" {
		t.Fatalf("unexpected scope claim %v", claims["scope"])
	}
}

func TestRunTokenRequiresSecret(t *testing.T) {
	t.Setenv("DELPHOR_JWT_SECRET", "")
	err := runToken([]string{"-config", filepath.Join(t.TempDir(), "config.toml")}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "DELPHOR_JWT_SECRET") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseScopes(t *testing.T) {
	got, err := parseScopes(" Admin ,,feeder")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0] != "admin" || got[1] != "feeder" {
		t.Fatalf("unexpected scopes %v", got)
	}
	if _, err := parseScopes("root"); err == nil {
		t.Fatalf("expected unknown scope to fail")
	}
}

func TestIsLoopbackAddress(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"10.0.0.4:8080":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddress(addr); got != want {
			t.Fatalf("isLoopbackAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestBuildTLSConfig(t *testing.T) {
	cfg, err := buildTLSConfig("", "")
	if err != nil || cfg != nil {
		t.Fatalf("expected plaintext config, got %v, %v", cfg, err)
	}
	if _, err := buildTLSConfig("cert.pem", ""); err == nil {
		t.Fatalf("expected error for half TLS config")
	}
	if _, err := buildTLSConfig(filepath.Join(t.TempDir(), "missing.pem"), "missing.key"); err == nil {
		t.Fatalf("expected error for missing key pair")
	}
}
