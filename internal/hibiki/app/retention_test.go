package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingPruner struct {
	before time.Time
	calls  int
	err    error
}

func (p *recordingPruner) PruneExecutions(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	p.calls++
	return 2, p.err
}

func (p *recordingPruner) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	p.calls++
	return 5, p.err
}

type idlePruner struct{ maxIdle time.Duration }

func (p *idlePruner) Prune(maxIdle time.Duration) int {
	p.maxIdle = maxIdle
	return 1
}

func TestNewRetention_RejectsBadSchedule(t *testing.T) {
	if _, err := NewRetention(RetentionConfig{Schedule: "every tuesday"}, nil); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestRetention_RunOnce(t *testing.T) {
	execs := &recordingPruner{}
	audit := &recordingPruner{}
	limiter := &idlePruner{}

	r, err := NewRetention(RetentionConfig{
		Schedule:    "@hourly",
		MaxAge:      24 * time.Hour,
		LimiterIdle: time.Hour,
		Executions:  execs,
		Audit:       audit,
		Limiter:     limiter,
	}, nil)
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.RunOnce(context.Background())

	want := now.Add(-24 * time.Hour)
	if execs.calls != 1 || !execs.before.Equal(want) {
		t.Errorf("executions pruned %d times before %v, want once before %v", execs.calls, execs.before, want)
	}
	if audit.calls != 1 || !audit.before.Equal(want) {
		t.Errorf("audit pruned %d times before %v, want once before %v", audit.calls, audit.before, want)
	}
	if limiter.maxIdle != time.Hour {
		t.Errorf("limiter pruned with %v, want 1h", limiter.maxIdle)
	}
}

func TestRetention_RunOnceContinuesAfterErrors(t *testing.T) {
	execs := &recordingPruner{err: errors.New("locked")}
	audit := &recordingPruner{}

	r, err := NewRetention(RetentionConfig{
		Schedule:   "@daily",
		MaxAge:     time.Hour,
		Executions: execs,
		Audit:      audit,
	}, nil)
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	r.RunOnce(context.Background())

	if audit.calls != 1 {
		t.Errorf("audit should still be pruned after an execution prune error")
	}
}

func TestRetention_RunStopsWithContext(t *testing.T) {
	r, err := NewRetention(RetentionConfig{Schedule: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
