package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the translation client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// Translation endpoint.
	EndpointURL string
	Model       string
	APIKey      string

	// Session defaults.
	UserID     string
	SourceLang string
	TargetLang string

	// Timing.
	AckTimeout        time.Duration
	HeartbeatInterval time.Duration
	FrameDuration     time.Duration

	// Reconnection.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	// Usage ledger. LedgerURL selects the hosted ledger, DatabaseURL a
	// self-hosted one; with neither set usage is unmetered.
	LedgerURL    string
	LedgerAPIKey string
	DatabaseURL  string
	FreeCredits  float64

	// Headless audio I/O. InputWAVPath feeds the session from a recording;
	// OutputWAVPath captures translated audio for later listening.
	InputWAVPath  string
	OutputWAVPath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "tolk"),
		EndpointURL:          envOrDefault("TOLK_ENDPOINT_URL", "wss://api.openai.com/v1/realtime"),
		Model:                envOrDefault("TOLK_MODEL", "gpt-4o-realtime-preview"),
		APIKey:               stringsTrimSpace("TOLK_API_KEY"),
		UserID:               envOrDefault("TOLK_USER_ID", "local"),
		SourceLang:           envOrDefault("TOLK_SOURCE_LANG", "en"),
		TargetLang:           envOrDefault("TOLK_TARGET_LANG", "it"),
		LedgerURL:            stringsTrimSpace("TOLK_LEDGER_URL"),
		LedgerAPIKey:         stringsTrimSpace("TOLK_LEDGER_API_KEY"),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		InputWAVPath:         stringsTrimSpace("TOLK_INPUT_WAV"),
		OutputWAVPath:        stringsTrimSpace("TOLK_OUTPUT_WAV"),
		ShutdownTimeout:      15 * time.Second,
		AckTimeout:           10 * time.Second,
		HeartbeatInterval:    3 * time.Second,
		FrameDuration:        100 * time.Millisecond,
		ReconnectBaseDelay:   500 * time.Millisecond,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 8,
		FreeCredits:          3600,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AckTimeout, err = durationFromEnv("TOLK_ACK_TIMEOUT", cfg.AckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HeartbeatInterval, err = durationFromEnv("TOLK_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameDuration, err = durationFromEnv("TOLK_FRAME_DURATION", cfg.FrameDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectBaseDelay, err = durationFromEnv("TOLK_RECONNECT_BASE_DELAY", cfg.ReconnectBaseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectMaxDelay, err = durationFromEnv("TOLK_RECONNECT_MAX_DELAY", cfg.ReconnectMaxDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectMaxAttempts, err = intFromEnv("TOLK_RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.FreeCredits, err = floatFromEnv("TOLK_FREE_CREDITS", cfg.FreeCredits)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return Config{}, fmt.Errorf("TOLK_ENDPOINT_URL must not be empty")
	}
	if strings.EqualFold(cfg.SourceLang, cfg.TargetLang) {
		return Config{}, fmt.Errorf("TOLK_SOURCE_LANG and TOLK_TARGET_LANG must differ")
	}
	if cfg.FrameDuration < 20*time.Millisecond || cfg.FrameDuration > time.Second {
		return Config{}, fmt.Errorf("TOLK_FRAME_DURATION must be between 20ms and 1s")
	}
	if cfg.AckTimeout < time.Second {
		return Config{}, fmt.Errorf("TOLK_ACK_TIMEOUT must be at least 1s")
	}
	if cfg.HeartbeatInterval < time.Second {
		return Config{}, fmt.Errorf("TOLK_HEARTBEAT_INTERVAL must be at least 1s")
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("TOLK_RECONNECT_MAX_ATTEMPTS must be positive")
	}
	if cfg.LedgerURL != "" && cfg.DatabaseURL != "" {
		return Config{}, fmt.Errorf("TOLK_LEDGER_URL and DATABASE_URL are mutually exclusive")
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

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
