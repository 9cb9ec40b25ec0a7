package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWriterRenamesKeysAndFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "lendingd", "test", slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", "api_token", "secret", MaskField("note", "hidden"), "market", "lend1abc", "attempts", 3)

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "kept" || line["severity"] != "WARN" {
		t.Fatalf("unexpected envelope: %v", line)
	}
	if line["service"] != "lendingd" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if line["api_token"] != RedactedValue || line["note"] != RedactedValue {
		t.Fatalf("secrets not redacted: %v", line)
	}
	if line["market"] != "lend1abc" || line["attempts"] != float64(3) {
		t.Fatalf("plain fields altered: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskValue(t *testing.T) {
	if MaskValue("") != "" {
		t.Fatalf("empty value should pass through")
	}
	if MaskValue("abc") != RedactedValue {
		t.Fatalf("value not masked")
	}
}

func TestIsSensitive(t *testing.T) {
	for _, key := range []string{"jwt_secret", "API_KEY", "events.dsn", "Authorization"} {
		if !IsSensitive(key) {
			t.Fatalf("%q should be sensitive", key)
		}
	}
	for _, key := range []string{"market", "account", "route"} {
		if IsSensitive(key) {
			t.Fatalf("%q should not be sensitive", key)
		}
	}
}
