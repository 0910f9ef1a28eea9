package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "delphord", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("swap executed", "symbol", "SOL")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above the level threshold, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "symbol"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %v", key, entry)
		}
	}
	if entry["severity"] != "INFO" || entry["message"] != "swap executed" || entry["service"] != "delphord" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskURL(t *testing.T) {
	got := MaskURL("https://user:pw@pro-api.coingecko.com/api/v3/simple/price?ids=solana&x_cg_pro_api_key=secret")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Fatalf("credentials leaked: %s", got)
	}
	if !strings.Contains(got, "ids=solana") {
		t.Fatalf("non-sensitive query dropped: %s", got)
	}
	if MaskURL("") != "" {
		t.Fatalf("empty url should stay empty")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("symbol", "SOL"); attr.Value.String() != "SOL" {
		t.Fatalf("allowlisted key masked: %v", attr)
	}
	if attr := MaskField("jwt", "abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("sensitive key not masked: %v", attr)
	}
}
