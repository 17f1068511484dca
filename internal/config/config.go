package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audio formats accepted on the model leg.
const (
	ModelAudioG711ULaw = "g711_ulaw"
	ModelAudioPCM16    = "pcm16"
)

// Config contains all runtime settings for the call bridge.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	OpenAIAPIKey    string
	RealtimeBaseURL string
	RealtimeModel   string

	DefaultVoice        string
	DefaultInstructions string
	Temperature         float64
	MaxResponseTokens   int
	ModelAudioFormat    string

	TurnDetectionThreshold float64
	TurnDetectionPrefixMS  int
	TurnDetectionSilenceMS int

	// InboundAutoGreet triggers an immediate model response when an inbound
	// call connects. Outbound calls never auto-greet.
	InboundAutoGreet bool

	// MonitorAuthToken, when set, puts the /logs endpoint in hardened mode:
	// monitor connections must present it as a query parameter.
	MonitorAuthToken string

	// SessionTTL is the absolute lifetime of a session from creation. It is
	// not an idle timeout and is never renewed by activity.
	SessionTTL time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "switchboard"),
		OpenAIAPIKey:        envTrimmed("OPENAI_API_KEY"),
		RealtimeBaseURL:     envOrDefault("OPENAI_REALTIME_BASE_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:       envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		DefaultVoice:        envOrDefault("BRIDGE_DEFAULT_VOICE", "alloy"),
		DefaultInstructions: envTrimmed("BRIDGE_DEFAULT_INSTRUCTIONS"),
		ModelAudioFormat:    envOrDefault("BRIDGE_MODEL_AUDIO_FORMAT", ModelAudioG711ULaw),
		MonitorAuthToken:    envTrimmed("BRIDGE_MONITOR_AUTH_TOKEN"),
		DatabaseURL:         envTrimmed("DATABASE_URL"),

		Temperature:            0.8,
		MaxResponseTokens:      0,
		TurnDetectionThreshold: 0.5,
		TurnDetectionPrefixMS:  300,
		TurnDetectionSilenceMS: 500,
		InboundAutoGreet:       true,
		SessionTTL:             30 * time.Minute,
		ShutdownTimeout:        15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("BRIDGE_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("BRIDGE_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxResponseTokens, err = intFromEnv("BRIDGE_MAX_RESPONSE_TOKENS", cfg.MaxResponseTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnDetectionThreshold, err = floatFromEnv("BRIDGE_TURN_THRESHOLD", cfg.TurnDetectionThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnDetectionPrefixMS, err = intFromEnv("BRIDGE_TURN_PREFIX_MS", cfg.TurnDetectionPrefixMS)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnDetectionSilenceMS, err = intFromEnv("BRIDGE_TURN_SILENCE_MS", cfg.TurnDetectionSilenceMS)
	if err != nil {
		return Config{}, err
	}
	cfg.InboundAutoGreet, err = boolFromEnv("BRIDGE_INBOUND_AUTO_GREET", cfg.InboundAutoGreet)
	if err != nil {
		return Config{}, err
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("BRIDGE_SESSION_TTL must be at least 1m")
	}
	if cfg.ModelAudioFormat != ModelAudioG711ULaw && cfg.ModelAudioFormat != ModelAudioPCM16 {
		return Config{}, fmt.Errorf("BRIDGE_MODEL_AUDIO_FORMAT must be %q or %q", ModelAudioG711ULaw, ModelAudioPCM16)
	}
	if cfg.Temperature < 0.6 || cfg.Temperature > 1.2 {
		return Config{}, fmt.Errorf("BRIDGE_TEMPERATURE must be between 0.6 and 1.2")
	}
	if cfg.MaxResponseTokens < 0 {
		return Config{}, fmt.Errorf("BRIDGE_MAX_RESPONSE_TOKENS must be >= 0")
	}
	if cfg.TurnDetectionPrefixMS < 0 || cfg.TurnDetectionSilenceMS < 0 {
		return Config{}, fmt.Errorf("turn detection paddings must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
