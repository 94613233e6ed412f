package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the voice assistant
type Config struct {
	Port          int
	PublicBaseURL string // Public URL Twilio reaches us at (webhooks + media stream)

	OpenAIAPIKey     string
	TwilioAccountSID string
	TwilioAuthToken  string

	BackendBaseURL string // Customer backend (profile lookup, login, messaging)

	SystemPromptDocID    string // Document id of the default instruction script
	ConsentPromptDocID   string // Document id of the consent instruction script
	LiveAgentPromptDocID string // Document id of the live-agent instruction script

	RealtimeModel string
	Voice         string

	// MaxEntryAttempts caps how many times a caller may retry mobile-number
	// entry before the call is terminated. 0 means unbounded.
	MaxEntryAttempts int

	SettleDelay   time.Duration // pause between the canned line and the full script push
	ResetPause    time.Duration // pause after the context-reset frame
	TransferGrace time.Duration // pause before acting on a live-agent transfer
	PingInterval  time.Duration // telephony transport liveness ping cadence
	SweepInterval time.Duration // abandoned-session sweep cadence
	PendingTTL    time.Duration // lifetime of an unconfirmed IVR entry
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (overrides existing env vars)
	_ = godotenv.Overload()

	config := &Config{
		Port:                 getEnvAsIntOrDefault("PORT", 5050),
		PublicBaseURL:        os.Getenv("PUBLIC_BASE_URL"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		BackendBaseURL:       os.Getenv("BACKEND_BASE_URL"),
		SystemPromptDocID:    os.Getenv("SYSTEM_PROMPT_DOC_ID"),
		ConsentPromptDocID:   os.Getenv("CONSENT_PROMPT_DOC_ID"),
		LiveAgentPromptDocID: os.Getenv("LIVE_AGENT_PROMPT_DOC_ID"),
		RealtimeModel:        getEnvOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		Voice:                getEnvOrDefault("VOICE", "alloy"),
		MaxEntryAttempts:     getEnvAsIntOrDefault("MAX_ENTRY_ATTEMPTS", 0),
		SettleDelay:          500 * time.Millisecond,
		ResetPause:           200 * time.Millisecond,
		TransferGrace:        3 * time.Second,
		PingInterval:         30 * time.Second,
		SweepInterval:        time.Hour,
		PendingTTL:           2 * time.Hour,
	}

	if config.OpenAIAPIKey == "" || config.TwilioAccountSID == "" || config.TwilioAuthToken == "" {
		return nil, fmt.Errorf("missing required environment variables, check .env file")
	}

	return config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
