package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/agentmem"
	"github.com/fyrsmithlabs/agentmem/pkg/audit"
)

func TestMetrics_RecordInvocation(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	logger := zap.NewNop()
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()

	ctx := context.Background()

	m.RecordInvocation(ctx, "memory_observe", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "memory_observe", 50*time.Millisecond, errors.New("validation error"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected scope metrics, got none")
	}

	foundInvocations := false
	foundDuration := false
	foundErrors := false

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "agentmem.mcp.tool.invocations_total":
				foundInvocations = true
				if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 2 {
						t.Errorf("expected 2 invocations, got %d", total)
					}
				}
			case "agentmem.mcp.tool.duration_seconds":
				foundDuration = true
			case "agentmem.mcp.tool.errors_total":
				foundErrors = true
				if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
					total := int64(0)
					for _, dp := range sum.DataPoints {
						total += dp.Value
					}
					if total != 1 {
						t.Errorf("expected 1 error, got %d", total)
					}
				}
			}
		}
	}

	if !foundInvocations {
		t.Error("invocations counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundErrors {
		t.Error("errors counter not found")
	}
}

func TestMetrics_ActiveRequests(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	logger := zap.NewNop()
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logger,
	}
	m.init()

	ctx := context.Background()

	m.IncrementActive(ctx, "context_build")
	m.IncrementActive(ctx, "context_build")
	m.DecrementActive(ctx, "context_build")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "agentmem.mcp.tool.active_requests" {
				continue
			}
			found = true
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				total := int64(0)
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				if total != 1 {
					t.Errorf("expected 1 active request, got %d", total)
				}
			}
		}
	}

	if !found {
		t.Error("active requests gauge not found")
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"tamper", &audit.TamperError{Expected: "aa", Actual: "bb"}, "tamper_detected"},
		{"wrapped tamper", fmt.Errorf("load: %w", &audit.TamperError{Expected: "aa", Actual: "bb"}), "tamper_detected"},
		{"closed", agentmem.ErrClosed, "manager_closed"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"validation", errors.New("invalid priority marker"), "validation_error"},
		{"not found", errors.New("runstate: run not found"), "not_found"},
		{"llm", errors.New("model returned empty completion"), "llm_error"},
		{"lock", errors.New("timed out waiting for file lock"), "lock_error"},
		{"other", errors.New("disk full"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.err); got != tt.want {
				t.Errorf("categorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
