// Package observer compresses session transcripts into observations.
//
// When the rolling transcript crosses the token threshold, the observer
// asks the model for priority-marked observation lines, parses them
// tolerantly, scrubs each body, and hands validated observations back
// for appending. It never writes the store itself.
package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const instrumentationName = "github.com/fyrsmithlabs/agentmem/pkg/observer"

// DefaultThresholdTokens is the transcript size that triggers
// extraction.
const DefaultThresholdTokens = 30000

const systemPrompt = `You are a memory extraction agent. Review the session transcript and extract observations worth remembering across sessions.

Format each observation as a single line starting with a priority marker:
🔴 critical: blockers, security events, decisions that must not be forgotten
🟡 patterns: recurring behavior, preferences, things that keep coming up
🟢 routine: completed work and routine context

One observation per line, maximum ~200 characters per observation. Record concrete facts, not speculation. Return only observation lines.`

// Config configures the observer.
type Config struct {
	// ThresholdTokens triggers extraction once the transcript reaches
	// it (default: 30000).
	ThresholdTokens int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{ThresholdTokens: DefaultThresholdTokens}
}

// Result is one extraction pass.
type Result struct {
	Observations []memory.Observation
	// Skipped counts response lines that did not parse or validate.
	Skipped int
	// Redacted counts observations whose body tripped a sanitizer
	// rule.
	Redacted int
}

// Service extracts observations from transcripts.
type Service interface {
	// ShouldObserve reports whether transcript has crossed the token
	// threshold.
	ShouldObserve(transcript string) bool

	// Extract compresses transcript into observations dated
	// observedOn. A response that yields nothing is not an error; the
	// caller just has nothing to append.
	Extract(ctx context.Context, transcript string, observedOn time.Time) (Result, error)
}

// service implements the Service interface.
type service struct {
	config   *Config
	adapter  llm.Adapter
	scrubber *sanitize.Sanitizer
	counter  tokenizer.Counter
	logger   *zap.Logger

	// Telemetry
	tracer             trace.Tracer
	meter              metric.Meter
	extractionCounter  metric.Int64Counter
	observationCounter metric.Int64Counter
}

// NewService creates a new observer service.
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

	s.extractionCounter, err = s.meter.Int64Counter(
		"agentmem.observer.extractions_total",
		metric.WithDescription("Total number of extraction passes"),
		metric.WithUnit("{extraction}"),
	)
	if err != nil {
		s.logger.Warn("failed to create extraction counter", zap.Error(err))
	}

	s.observationCounter, err = s.meter.Int64Counter(
		"agentmem.observer.observations_total",
		metric.WithDescription("Total number of observations extracted"),
		metric.WithUnit("{observation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create observation counter", zap.Error(err))
	}
}

func (s *service) ShouldObserve(transcript string) bool {
	if transcript == "" {
		return false
	}
	return s.counter.Count(transcript) >= s.config.ThresholdTokens
}

func (s *service) Extract(ctx context.Context, transcript string, observedOn time.Time) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "observer.extract")
	defer span.End()

	span.SetAttributes(
		attribute.Int("transcript_tokens", s.counter.Count(transcript)),
		attribute.String("provider", s.adapter.Name()),
	)

	response, err := s.adapter.Complete(ctx, llm.Request{
		System: systemPrompt,
		Prompt: "Session transcript:\n\n" + transcript,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("extraction completion failed: %w", err)
	}

	parsed := memory.ParseLines(response, observedOn)
	result := Result{Skipped: parsed.ErrorCount}
	for _, obs := range parsed.Observations {
		cleaned, ok := s.scrub(obs)
		if !ok {
			result.Skipped++
			continue
		}
		if cleaned.redacted {
			result.Redacted++
		}
		result.Observations = append(result.Observations, cleaned.obs)
	}

	if s.extractionCounter != nil {
		s.extractionCounter.Add(ctx, 1)
	}
	if s.observationCounter != nil {
		s.observationCounter.Add(ctx, int64(len(result.Observations)))
	}
	span.SetAttributes(
		attribute.Int("observations", len(result.Observations)),
		attribute.Int("skipped", result.Skipped),
	)
	s.logger.Info("extracted observations",
		zap.Int("observations", len(result.Observations)),
		zap.Int("skipped", result.Skipped),
		zap.Int("redacted", result.Redacted))
	return result, nil
}

type scrubbed struct {
	obs      memory.Observation
	redacted bool
}

// scrub cleans one body. A truncated body escalates to critical so the
// cut is impossible to miss during review.
func (s *service) scrub(obs memory.Observation) (scrubbed, bool) {
	res := s.scrubber.CleanInternal(obs.Body)
	obs.Body = res.Text
	if res.Truncated {
		obs.Priority = memory.PriorityCritical
	}
	if err := obs.Validate(); err != nil {
		s.logger.Warn("dropped observation after scrubbing", zap.Error(err))
		return scrubbed{}, false
	}
	return scrubbed{obs: obs, redacted: res.Redacted()}, true
}

var _ Service = (*service)(nil)
