package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Hibiki/internal/hibiki/config"
)

func validEnv() map[string]string {
	return map[string]string{
		"HIBIKI_MATRIX_HOMESERVER":   "https://matrix.example.org",
		"HIBIKI_MATRIX_USER_ID":      "@hibiki:example.org",
		"HIBIKI_MATRIX_ACCESS_TOKEN": "secret",
		"HIBIKI_MATRIX_BOT_ROOMS":    "@weatherbot:example.org=!w:example.org,@parcelbot:example.org=!p:example.org",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(validEnv())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.HTTPAddr != ":8080" || cfg.DBPath != "hibiki.db" || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	rc := cfg.RouterConfig()
	if rc.CheckInterval != 500*time.Millisecond || rc.StabilityChecks != 12 || rc.Timeout != time.Minute || rc.StrictRouting {
		t.Errorf("router config = %+v", rc)
	}
	if lc := cfg.LimiterConfig(); lc.Cooldown != 15*time.Second || lc.MaxPerWindow != 0 || lc.Window != 5*time.Minute {
		t.Errorf("limiter config = %+v", lc)
	}
	if gc := cfg.GatewayConfig(); gc.MinInformativeLength != 20 || gc.MaxTextLength != 4000 {
		t.Errorf("gateway config = %+v", gc)
	}
	if cfg.Retention.Schedule != "@hourly" || cfg.Retention.MaxAge != 720*time.Hour {
		t.Errorf("retention = %+v", cfg.Retention)
	}
	if got := cfg.Matrix.BotRooms["@parcelbot:example.org"]; got != "!p:example.org" {
		t.Errorf("BotRooms = %v", cfg.Matrix.BotRooms)
	}
}

func TestLoadOverrides(t *testing.T) {
	e := validEnv()
	e["HIBIKI_CORRELATION_TIMEOUT"] = "90s"
	e["HIBIKI_CORRELATION_STRICT_ROUTING"] = "true"
	e["HIBIKI_RATE_LIMIT_MAX_PER_WINDOW"] = "10"
	e["HIBIKI_LOG_FORMAT"] = "json"

	cfg, err := config.LoadFrom(e)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Correlation.StrictRouting || cfg.Correlation.Timeout != 90*time.Second {
		t.Errorf("correlation = %+v", cfg.Correlation)
	}
	if cfg.RateLimit.MaxPerWindow != 10 || cfg.LogFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"bad log level", "HIBIKI_LOG_LEVEL", "verbose", "LogLevel"},
		{"short master key", "HIBIKI_MASTER_KEY", "abcd", "MasterKey"},
		{"room without bang", "HIBIKI_MATRIX_BOT_ROOMS", "@bot:x=room", "BotRooms"},
		{"bot without at", "HIBIKI_MATRIX_BOT_ROOMS", "bot=!room:x", "BotRooms"},
		{"missing token", "HIBIKI_MATRIX_ACCESS_TOKEN", "", "AccessToken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEnv()
			e[tt.key] = tt.value
			cfg, err := config.LoadFrom(e)
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Validate = %v, want failure on %s", err, tt.field)
			}
		})
	}
}

func TestValidateLocalIgnoresMatrix(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should require the Matrix section")
	}
	if err := cfg.ValidateLocal(); err != nil {
		t.Errorf("ValidateLocal: %v", err)
	}
}

func TestSealer(t *testing.T) {
	e := validEnv()
	e["HIBIKI_MASTER_KEY"] = strings.Repeat("ab", 32)
	cfg, err := config.LoadFrom(e)
	if err != nil {
		t.Fatal(err)
	}
	s, err := cfg.Sealer()
	if err != nil {
		t.Fatalf("Sealer: %v", err)
	}
	if !s.Enabled() {
		t.Error("sealer should be enabled with a master key")
	}

	cfg.MasterKey = ""
	s, err = cfg.Sealer()
	if err != nil || s.Enabled() {
		t.Errorf("no key should give a disabled sealer, got %v, %v", s.Enabled(), err)
	}
}
