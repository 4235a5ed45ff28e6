package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/internal/hibiki/observability"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupJSONWithTrace(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := observability.Setup("debug", "json", &buf)

	ctx := trace.WithTraceID(context.Background(), "t_123")
	observability.WithTrace(ctx, logger).Debug("dispatching", "target", "@bot:x")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["trace_id"] != "t_123" || rec["target"] != "@bot:x" || rec["msg"] != "dispatching" {
		t.Errorf("record = %v", rec)
	}
}

func TestSetupFiltersByLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := observability.Setup("warn", "text", &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
}

func TestZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := observability.Zerolog("info", "json", "mautrix", &buf)
	zl.Debug().Msg("hidden")
	zl.Info().Msg("sync ok")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line leaked: %q", out)
	}
	if !strings.Contains(out, `"component":"mautrix"`) || !strings.Contains(out, "sync ok") {
		t.Errorf("output = %q", out)
	}
}
