package main

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC-test")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok-test")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("REALTIME_MODEL", "")
	t.Setenv("MAX_ENTRY_ATTEMPTS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 5050 {
		t.Errorf("Port = %d, want 5050", cfg.Port)
	}
	if cfg.RealtimeModel != "gpt-4o-realtime-preview-2024-12-17" {
		t.Errorf("RealtimeModel = %q", cfg.RealtimeModel)
	}
	if cfg.Voice != "alloy" {
		t.Errorf("Voice = %q", cfg.Voice)
	}
	if cfg.MaxEntryAttempts != 0 {
		t.Errorf("MaxEntryAttempts = %d, want 0 (unbounded)", cfg.MaxEntryAttempts)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_ENTRY_ATTEMPTS", "3")
	t.Setenv("VOICE", "verse")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.MaxEntryAttempts != 3 || cfg.Voice != "verse" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC-test")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok-test")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("missing OpenAI key should fail")
	}
}

func TestGetEnvAsIntOrDefaultBadValue(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := getEnvAsIntOrDefault("SOME_INT", 7); got != 7 {
		t.Errorf("got %d, want fallback 7", got)
	}
}
