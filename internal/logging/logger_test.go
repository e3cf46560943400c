package logging

import "testing"

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn"} {
		logger, err := NewLogger("linky-feed-ingester", level)
		if err != nil {
			t.Fatalf("Failed to build logger for level %q: %v", level, err)
		}
		WithRunID(logger, "run-1").Info("OK: logger ready")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger("linky-feed-ingester", "loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}
