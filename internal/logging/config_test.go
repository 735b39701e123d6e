package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel, ok: false},
		{raw: "debug", want: zerolog.DebugLevel, ok: true},
		{raw: " WARN ", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel, ok: false},
	}
	for _, tc := range tests {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogFormat, "json")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("expected timestamp disabled")
	}
	if cfg.Format != FormatJSON {
		t.Fatalf("unexpected format: %q", cfg.Format)
	}
}

func TestNewJSONOutputForNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, Out: &buf})
	logger.Info().Str("state", "ready").Msg("session.Manager transition")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["state"] != "ready" {
		t.Fatalf("unexpected fields: %+v", line)
	}
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, Out: &buf, Format: FormatConsole, NoColor: true})
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("unexpected console output: %q", buf.String())
	}
}
