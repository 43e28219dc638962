package messagebus

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.URL != "nats://127.0.0.1:4222" {
		t.Errorf("got URL %q", cfg.URL)
	}
	if cfg.StreamName != "RECURVE" {
		t.Errorf("got stream %q", cfg.StreamName)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("got timeout %v", cfg.Timeout)
	}
}

func TestConfig_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		URL:        "nats://custom:4222",
		StreamName: "CUSTOM",
		Timeout:    30 * time.Second,
	}.withDefaults()
	if cfg.URL != "nats://custom:4222" {
		t.Errorf("got URL %q", cfg.URL)
	}
	if cfg.StreamName != "CUSTOM" {
		t.Errorf("got stream %q", cfg.StreamName)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("got timeout %v", cfg.Timeout)
	}
}

func TestActivitySubject(t *testing.T) {
	tests := []struct {
		eventType, want string
	}{
		{"lead_classified", "recurve.activity.lead_classified"},
		{"strategy_pivot_triggered", "recurve.activity.strategy_pivot_triggered"},
		{"odd.type", "recurve.activity.odd_type"},
		{"wild*card>", "recurve.activity.wild_card_"},
		{"", "recurve.activity.unknown"},
	}

	for _, tc := range tests {
		if got := activitySubject(tc.eventType); got != tc.want {
			t.Errorf("activitySubject(%q) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}

func TestNewNatsMessageBus_BadURL(t *testing.T) {
	_, err := NewNatsMessageBus(Config{
		URL:     "nats://nonexistent-host:99999",
		Timeout: 500 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Error("expected error connecting to nonexistent NATS")
	}
}
