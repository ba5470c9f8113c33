package metrics

import (
	"testing"

	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/optimize"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
	var _ optimize.Recorder = reg
	var _ live.Recorder = reg
}

func counterValue(t *testing.T, reg *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, label := range m.GetLabel() {
				if want, ok := labels[label.GetName()]; ok && label.GetValue() != want {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRegistry_JobMetrics(t *testing.T) {
	reg := NewRegistry()

	reg.JobStarted("optimization")
	reg.JobFinished("optimization", "completed")
	reg.TrialCompleted(false)
	reg.TrialCompleted(false)
	reg.TrialCompleted(true)

	if v := counterValue(t, reg, "tradeforge_jobs_started_total", map[string]string{"kind": "optimization"}); v != 1 {
		t.Errorf("jobs_started = %v, want 1", v)
	}
	if v := counterValue(t, reg, "tradeforge_trials_total", map[string]string{"outcome": "ok"}); v != 2 {
		t.Errorf("trials ok = %v, want 2", v)
	}
	if v := counterValue(t, reg, "tradeforge_trials_total", map[string]string{"outcome": "failed"}); v != 1 {
		t.Errorf("trials failed = %v, want 1", v)
	}
}

func TestRegistry_LiveMetrics(t *testing.T) {
	reg := NewRegistry()

	reg.TickCompleted("setting-1", false)
	reg.TickCompleted("setting-1", true)
	reg.SignalEmitted("buy")
	reg.OrderPlaced(false)

	if v := counterValue(t, reg, "tradeforge_live_ticks_total", map[string]string{"outcome": "skipped"}); v != 1 {
		t.Errorf("skipped ticks = %v, want 1", v)
	}
	if v := counterValue(t, reg, "tradeforge_live_signals_total", map[string]string{"decision": "buy"}); v != 1 {
		t.Errorf("buy signals = %v, want 1", v)
	}
	if v := counterValue(t, reg, "tradeforge_live_orders_total", map[string]string{"status": "rejected"}); v != 1 {
		t.Errorf("rejected orders = %v, want 1", v)
	}
}

func TestRegistry_RecordRequest_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			reg := NewRegistry()
			reg.RecordRequest("GET", "/test", tt.status, 0.01)
			if v := counterValue(t, reg, "http_requests_total", map[string]string{"status": tt.expected}); v != 1 {
				t.Errorf("expected status label %s for code %d", tt.expected, tt.status)
			}
		})
	}
}
