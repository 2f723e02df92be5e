package config

import (
	"testing"
	"time"
)

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"TOLK_ENDPOINT_URL",
		"TOLK_MODEL",
		"TOLK_API_KEY",
		"TOLK_USER_ID",
		"TOLK_SOURCE_LANG",
		"TOLK_TARGET_LANG",
		"TOLK_ACK_TIMEOUT",
		"TOLK_HEARTBEAT_INTERVAL",
		"TOLK_FRAME_DURATION",
		"TOLK_RECONNECT_BASE_DELAY",
		"TOLK_RECONNECT_MAX_DELAY",
		"TOLK_RECONNECT_MAX_ATTEMPTS",
		"TOLK_LEDGER_URL",
		"TOLK_LEDGER_API_KEY",
		"TOLK_FREE_CREDITS",
		"TOLK_INPUT_WAV",
		"TOLK_OUTPUT_WAV",
		"DATABASE_URL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SourceLang != "en" || cfg.TargetLang != "it" {
		t.Fatalf("language defaults = %s->%s, want en->it", cfg.SourceLang, cfg.TargetLang)
	}
	if cfg.FrameDuration != 100*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 100ms", cfg.FrameDuration)
	}
	if cfg.HeartbeatInterval != 3*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 3s", cfg.HeartbeatInterval)
	}
	if cfg.LedgerURL != "" || cfg.DatabaseURL != "" {
		t.Fatalf("ledger defaults not empty: url=%q db=%q", cfg.LedgerURL, cfg.DatabaseURL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_SOURCE_LANG", "de")
	t.Setenv("TOLK_TARGET_LANG", "fr")
	t.Setenv("TOLK_FRAME_DURATION", "40ms")
	t.Setenv("TOLK_RECONNECT_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SourceLang != "de" || cfg.TargetLang != "fr" {
		t.Fatalf("languages = %s->%s, want de->fr", cfg.SourceLang, cfg.TargetLang)
	}
	if cfg.FrameDuration != 40*time.Millisecond {
		t.Fatalf("FrameDuration = %v, want 40ms", cfg.FrameDuration)
	}
	if cfg.ReconnectMaxAttempts != 3 {
		t.Fatalf("ReconnectMaxAttempts = %d, want 3", cfg.ReconnectMaxAttempts)
	}
}

func TestLoadRejectsSameLanguages(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_SOURCE_LANG", "en")
	t.Setenv("TOLK_TARGET_LANG", "EN")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want language validation error")
	}
}

func TestLoadAcceptsSubFiveSecondHeartbeat(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_HEARTBEAT_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatInterval != 2*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 2s", cfg.HeartbeatInterval)
	}
}

func TestLoadRejectsSubSecondHeartbeat(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_HEARTBEAT_INTERVAL", "500ms")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want heartbeat interval validation error")
	}
}

func TestLoadRejectsBadFrameDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_FRAME_DURATION", "5ms")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want frame duration validation error")
	}
}

func TestLoadRejectsConflictingLedgers(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOLK_LEDGER_URL", "https://ledger.example.com")
	t.Setenv("DATABASE_URL", "postgres://localhost/tolk")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want mutually exclusive ledger error")
	}
}
