package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func staticCheck(up bool) Check {
	return func(context.Context) bool { return up }
}

func TestMonitorStatusAggregation(t *testing.T) {
	cases := []struct {
		name     string
		redis    bool
		research bool
		want     string
	}{
		{"all up", true, true, "healthy"},
		{"optional down", true, false, "degraded"},
		{"critical down", false, true, "down"},
		{"everything down", false, false, "down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor(0, zap.NewNop())
			m.Register("redis", true, staticCheck(tc.redis))
			m.Register("research", false, staticCheck(tc.research))

			report := m.Report(context.Background())
			if report.Status != tc.want {
				t.Errorf("got status %q, want %q", report.Status, tc.want)
			}
			if report.Services["redis"] != tc.redis {
				t.Errorf("redis = %v, want %v", report.Services["redis"], tc.redis)
			}
			if report.Services["research"] != tc.research {
				t.Errorf("research = %v, want %v", report.Services["research"], tc.research)
			}
			if report.CheckedAt.IsZero() {
				t.Error("checked_at not set")
			}
		})
	}
}

func TestMonitorCachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(time.Hour, zap.NewNop())
	m.Register("redis", true, func(context.Context) bool {
		calls.Add(1)
		return true
	})

	first := m.Report(context.Background())
	second := m.Report(context.Background())
	if got := calls.Load(); got != 1 {
		t.Errorf("check ran %d times, want 1", got)
	}
	if !first.CheckedAt.Equal(second.CheckedAt) {
		t.Error("expected cached report")
	}
}

func TestMonitorZeroTTLAlwaysProbes(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(0, zap.NewNop())
	m.Register("redis", true, func(context.Context) bool {
		calls.Add(1)
		return true
	})

	m.Report(context.Background())
	m.Report(context.Background())
	if got := calls.Load(); got != 2 {
		t.Errorf("check ran %d times, want 2", got)
	}
}

func TestMonitorSurvivesPanickyCheck(t *testing.T) {
	m := NewMonitor(0, zap.NewNop())
	m.Register("flaky", false, func(context.Context) bool {
		panic("probe exploded")
	})
	m.Register("redis", true, staticCheck(true))

	report := m.Report(context.Background())
	if report.Services["flaky"] {
		t.Error("panicking check should report down")
	}
	if report.Status != "degraded" {
		t.Errorf("got status %q, want degraded", report.Status)
	}
}

func TestMonitorRegisterExecutor(t *testing.T) {
	m := NewMonitor(0, zap.NewNop())
	m.RegisterExecutor(NewUnavailable(KindResearch), false)

	report := m.Report(context.Background())
	if report.Services["research"] {
		t.Error("stub executor should report down")
	}
}
