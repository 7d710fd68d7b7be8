package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model", "voice_id"}}

	if err := ValidateSettings(map[string]any{"API-Key": "k", "voiceId": "v"}, schema); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}

	err := ValidateSettings(map[string]any{"api_key": " ", "colour": "red"}, schema)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "missing: api_key") || !strings.Contains(err.Error(), "unknown: colour") {
		t.Fatalf("unexpected error: %v", err)
	}

	schema.AllowUnknown = true
	if err := ValidateSettings(map[string]any{"api_key": "k", "colour": "red"}, schema); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		APIKey     string        `mapstructure:"api_key"`
		SampleRate int           `mapstructure:"sample_rate"`
		Interim    bool          `mapstructure:"interim_results"`
		KeepAlive  time.Duration `mapstructure:"keep_alive"`
	}
	err := DecodeSettings(map[string]any{
		"API_KEY":         "secret",
		"sample-rate":     "16000",
		"interim_results": "true",
		"keep_alive":      "5s",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" || out.SampleRate != 16000 || !out.Interim || out.KeepAlive != 5*time.Second {
		t.Fatalf("unexpected decode result: %#v", out)
	}
}

func TestValueHelpers(t *testing.T) {
	yes := true
	n := 7
	if !BoolValue(&yes, false) || BoolValue(nil, false) {
		t.Fatalf("unexpected BoolValue result")
	}
	if IntValue(&n, 1) != 7 || IntValue(nil, 1) != 1 {
		t.Fatalf("unexpected IntValue result")
	}
	if Millis(0, time.Second) != time.Second || Millis(250, time.Second) != 250*time.Millisecond {
		t.Fatalf("unexpected Millis result")
	}
	if err := RequireString("", "backend.base_url"); err == nil {
		t.Fatalf("expected error for empty value")
	}
}

func TestValidateSettingsTypedError(t *testing.T) {
	err := ValidateSettings(map[string]any{"b": 1, "a": nil}, Schema{Required: []string{"voice_id", "a"}})
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SettingsError, got %T", err)
	}
	if len(serr.Missing) != 2 || serr.Missing[0] != "a" || serr.Missing[1] != "voice_id" {
		t.Fatalf("unexpected missing %v", serr.Missing)
	}
	if len(serr.Unknown) != 1 || serr.Unknown[0] != "b" {
		t.Fatalf("unexpected unknown %v", serr.Unknown)
	}
}
