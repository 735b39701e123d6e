package session

import (
	"testing"

	"github.com/danmuck/wagate/internal/transport"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		cause transport.Cause
		want  Class
	}{
		{transport.CauseLoggedOut, Fatal},
		{transport.CauseConnectionLost, Retryable},
		{transport.CauseConnectionClosed, Retryable},
		{transport.CauseTimedOut, Retryable},
		{transport.CauseRestartRequired, Retryable},
		{transport.CauseConnectionReplaced, Retryable},
		{transport.CauseStreamError, Retryable},
		{transport.CauseTemporaryBan, Retryable},
		{transport.CauseUnknown, Retryable},
		{transport.Cause("something_new"), Retryable},
	}
	for _, tc := range cases {
		t.Run(string(tc.cause), func(t *testing.T) {
			if got := Classify(tc.cause); got != tc.want {
				t.Fatalf("Classify(%q) = %s, want %s", tc.cause, got, tc.want)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{ReconnectDelay: 1}.WithDefaults()
	if cfg.ReconnectDelay != 1 {
		t.Fatalf("explicit delay overwritten: %v", cfg.ReconnectDelay)
	}
	if cfg.SetupRetryDelay != DefaultSetupRetryDelay || cfg.EventBuffer != defaultEventBuffer {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
