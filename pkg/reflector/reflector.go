// Package reflector consolidates an overgrown observation log.
//
// Reflection is the only destructive operation in the system, so it is
// guarded: a response that parses to zero observations is rejected and
// the log left untouched. The reflector itself never writes; it hands a
// consolidated list back to the caller.
package reflector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/llm"
	"github.com/fyrsmithlabs/agentmem/pkg/memory"
	"github.com/fyrsmithlabs/agentmem/pkg/sanitize"
	"github.com/fyrsmithlabs/agentmem/pkg/tokenizer"
)

const instrumentationName = "github.com/fyrsmithlabs/agentmem/pkg/reflector"

// DefaultThresholdTokens is the log size that triggers consolidation.
const DefaultThresholdTokens = 40000

const systemPrompt = `You are a memory consolidation agent. The observation log below has grown too large. Consolidate it.

Rules:
- Merge related observations into single entries; drop routine noise that no longer matters.
- Preserve all three priority markers. Never drop a 🔴 entry outright; merge it or keep it.
- When merging entries, keep the most recent observed_on date and the earliest event_date.
- Keep [EXT] markers and origin fields on entries derived from external content.

Return the consolidated log in EXACTLY this format:

🔴 observed_on:YYYY-MM-DD event_date:YYYY-MM-DD
entry body

Separate each entry with a single blank line. Return nothing but the log.`

// Config configures the reflector.
type Config struct {
	// ThresholdTokens triggers consolidation once the serialized log
	// reaches it (default: 40000).
	ThresholdTokens int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ThresholdTokens: DefaultThresholdTokens}
}

// Outcome is one consolidation pass.
type Outcome struct {
	// Consolidated is the replacement log, valid only when Applied.
	Consolidated []memory.Observation
	// Applied is false when the safety guard rejected the response and
	// the log must stay as it is.
	Applied bool
	// Skipped counts response blocks that did not parse.
	Skipped int
	// TokensBefore and TokensAfter measure the compaction.
	TokensBefore int
	TokensAfter  int
}

// Service consolidates observation logs.
type Service interface {
	// ShouldReflect reports whether the serialized log has crossed the
	// token threshold.
	ShouldReflect(logText string) bool

	// Reflect asks the model for a consolidated replacement of raw.
	// The guard refuses a response with zero parseable observations.
	Reflect(ctx context.Context, raw string) (Outcome, error)
}

// service implements the Service interface.
type service struct {
	config   *Config
	adapter  llm.Adapter
	scrubber *sanitize.Sanitizer
	counter  tokenizer.Counter
	logger   *zap.Logger

	// Telemetry
	tracer            trace.Tracer
	meter             metric.Meter
	reflectionCounter metric.Int64Counter
	guardCounter      metric.Int64Counter
}

// NewService creates a new reflector service.
func NewService(cfg *Config, adapter llm.Adapter, scrubber *sanitize.Sanitizer, counter tokenizer.Counter, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ThresholdTokens <= 0 {
		return nil, errors.New("threshold tokens must be positive")
	}
	if adapter == nil {
		return nil, errors.New("llm adapter is required")
	}
	if scrubber == nil {
		return nil, errors.New("sanitizer is required")
	}
	if counter == nil {
		counter = tokenizer.Heuristic()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config:   cfg,
		adapter:  adapter,
		scrubber: scrubber,
		counter:  counter,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.reflectionCounter, err = s.meter.Int64Counter(
		"agentmem.reflector.reflections_total",
		metric.WithDescription("Total number of consolidation passes"),
		metric.WithUnit("{reflection}"),
	)
	if err != nil {
		s.logger.Warn("failed to create reflection counter", zap.Error(err))
	}

	s.guardCounter, err = s.meter.Int64Counter(
		"agentmem.reflector.guard_trips_total",
		metric.WithDescription("Total number of responses the safety guard rejected"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		s.logger.Warn("failed to create guard counter", zap.Error(err))
	}
}

func (s *service) ShouldReflect(logText string) bool {
	if logText == "" {
		return false
	}
	return s.counter.Count(logText) >= s.config.ThresholdTokens
}

func (s *service) Reflect(ctx context.Context, raw string) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "reflector.reflect")
	defer span.End()

	if strings.TrimSpace(raw) == "" {
		return Outcome{}, nil
	}

	before := s.counter.Count(raw)
	span.SetAttributes(
		attribute.Int("tokens_before", before),
		attribute.String("provider", s.adapter.Name()),
	)

	response, err := s.adapter.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: "Observation log:\n\n" + raw,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, fmt.Errorf("consolidation completion failed: %w", err)
	}
	if s.reflectionCounter != nil {
		s.reflectionCounter.Add(ctx, 1)
	}

	parsed := memory.ParseDocument(response)
	outcome := Outcome{Skipped: parsed.ErrorCount, TokensBefore: before}

	for _, obs := range parsed.Observations {
		res := s.scrubber.CleanInternal(obs.Body)
		obs.Body = res.Text
		if res.Truncated {
			obs.Priority = memory.PriorityCritical
		}
		if err := obs.Validate(); err != nil {
			outcome.Skipped++
			continue
		}
		outcome.Consolidated = append(outcome.Consolidated, obs)
	}

	if len(outcome.Consolidated) == 0 {
		// The guard: never let a bad response wipe the log.
		if s.guardCounter != nil {
			s.guardCounter.Add(ctx, 1)
		}
		span.SetAttributes(attribute.Bool("guard_tripped", true))
		s.logger.Warn("consolidation rejected: response parsed to zero observations",
			zap.Int("skipped", outcome.Skipped))
		return outcome, nil
	}

	outcome.Applied = true
	outcome.TokensAfter = s.counter.Count(memory.SerializeAll(outcome.Consolidated))
	span.SetAttributes(
		attribute.Int("observations", len(outcome.Consolidated)),
		attribute.Int("tokens_after", outcome.TokensAfter),
	)
	s.logger.Info("consolidated observation log",
		zap.Int("observations", len(outcome.Consolidated)),
		zap.Int("tokens_before", outcome.TokensBefore),
		zap.Int("tokens_after", outcome.TokensAfter))
	return outcome, nil
}

var _ Service = (*service)(nil)
