package agentmem

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/internal/fileutil"
	"github.com/fyrsmithlabs/agentmem/pkg/anchor"
	"github.com/fyrsmithlabs/agentmem/pkg/audit"
	"github.com/fyrsmithlabs/agentmem/pkg/clock"
	"github.com/fyrsmithlabs/agentmem/pkg/config"
	"github.com/fyrsmithlabs/agentmem/pkg/contextbuild"
	"github.com/fyrsmithlabs/agentmem/pkg/llm"
	"github.com/fyrsmithlabs/agentmem/pkg/memory"
	"github.com/fyrsmithlabs/agentmem/pkg/observer"
	"github.com/fyrsmithlabs/agentmem/pkg/reflector"
	"github.com/fyrsmithlabs/agentmem/pkg/runstate"
	"github.com/fyrsmithlabs/agentmem/pkg/sanitize"
	"github.com/fyrsmithlabs/agentmem/pkg/session"
	"github.com/fyrsmithlabs/agentmem/pkg/tokenizer"
)

const instrumentationName = "github.com/fyrsmithlabs/agentmem/pkg/agentmem"

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("agentmem: manager is closed")
	// ErrNoAdapter is returned by operations that need a model when
	// no provider is configured.
	ErrNoAdapter = errors.New("agentmem: no llm adapter configured")
)

// DriftError reports an instruction whose overlap with the task anchor
// fell below the threshold. It is advisory: the message was recorded
// and a critical observation appended; the caller decides whether to
// stop.
type DriftError struct {
	Score     float64
	Threshold float64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("instruction drifted off the task anchor: overlap %.2f below threshold %.2f",
		e.Score, e.Threshold)
}

// Report describes what one message append triggered.
type Report struct {
	Message session.Message
	// Drift is non-nil when a user message drifted off the anchor.
	Drift *DriftError
	// Observed is non-nil when the observer fired and drained the
	// session buffer.
	Observed *observer.Result
}

// Options carries the optional pieces of Open.
type Options struct {
	// SessionID names the transcript buffer under memory/sessions.
	// Empty generates a fresh id.
	SessionID string
	// Anchor pins the task statement for this session. Empty disables
	// drift checking.
	Anchor string
	// Adapter overrides the provider configured under llm. With no
	// adapter and no provider, operations that need a model return
	// ErrNoAdapter and everything else works offline.
	Adapter llm.Adapter
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Counter defaults to the tiktoken counter with a heuristic
	// fallback.
	Counter tokenizer.Counter
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Manager owns one memory store. All mutations of the observation log,
// audit chain, session buffer, and run state go through it.
type Manager struct {
	cfg       *config.Config
	clk       clock.Clock
	logger    *zap.Logger
	scrubber  *sanitize.Sanitizer
	counter   tokenizer.Counter
	auditLog  *audit.Log
	log       *memory.Log
	session   *session.Store
	sessionID string
	anchor    *anchor.Anchor
	observer  observer.Service
	reflector reflector.Service
	runs      *runstate.Store

	// Telemetry
	tracer             trace.Tracer
	meter              metric.Meter
	observationCounter metric.Int64Counter
	driftCounter       metric.Int64Counter

	// mu orders every mutation; reads rely on the log's own locking.
	mu     sync.Mutex
	closed bool
}

// Open builds the store under cfg.Store.Root, creating directories and
// files on first use. A fresh store gets an empty observation log and
// the init record that roots the audit chain.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	counter := opts.Counter
	if counter == nil {
		counter = tokenizer.Default(logger)
	}

	scrubber, err := sanitize.New(sanitize.Config{
		MaxEntryChars: cfg.Sanitizer.MaxEntryChars,
		RuleFilePath:  cfg.Sanitizer.RuleFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build sanitizer: %w", err)
	}

	adapter := opts.Adapter
	if adapter == nil && cfg.LLM.Provider != "" {
		adapter, err = llm.New(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to build llm adapter: %w", err)
		}
	}

	// Explicit 0700 on every level: the store holds session content
	// and must stay private even under a permissive umask.
	for _, dir := range []string{cfg.Store.Root, cfg.Store.MemoryDir(), cfg.Store.SessionsDir()} {
		if err := fileutil.EnsureDir(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	auditLog, err := audit.Open(cfg.Store.AuditPath(), clk, logger)
	if err != nil {
		return nil, err
	}
	obsLog, err := memory.NewLog(memory.Config{
		Path:   cfg.Store.ObservationsPath(),
		Clock:  clk,
		Logger: logger,
	}, auditLog)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}
	if err := obsLog.Initialize(ctx); err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := session.Open(filepath.Join(cfg.Store.SessionsDir(), sessionID+".jsonl"), clk, logger)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}
	runs, err := runstate.NewStore(cfg.Store.RunsDir(), clk, logger)
	if err != nil {
		_ = sess.Close()
		_ = auditLog.Close()
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		clk:       clk,
		logger:    logger,
		scrubber:  scrubber,
		counter:   counter,
		auditLog:  auditLog,
		log:       obsLog,
		session:   sess,
		sessionID: sessionID,
		runs:      runs,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	m.initMetrics()

	if opts.Anchor != "" {
		a, err := anchor.New(opts.Anchor)
		if err != nil {
			_ = sess.Close()
			_ = auditLog.Close()
			return nil, err
		}
		m.anchor = a
	}
	if adapter != nil {
		m.observer, err = observer.NewService(
			&observer.Config{ThresholdTokens: cfg.Observer.ThresholdTokens},
			adapter, scrubber, counter, logger)
		if err != nil {
			_ = sess.Close()
			_ = auditLog.Close()
			return nil, fmt.Errorf("failed to build observer: %w", err)
		}
		m.reflector, err = reflector.NewService(
			&reflector.Config{ThresholdTokens: cfg.Reflector.ThresholdTokens},
			adapter, scrubber, counter, logger)
		if err != nil {
			_ = sess.Close()
			_ = auditLog.Close()
			return nil, fmt.Errorf("failed to build reflector: %w", err)
		}
	}

	logger.Info("memory store opened",
		zap.String("root", cfg.Store.Root),
		zap.String("session_id", sessionID),
		zap.Bool("llm", adapter != nil),
		zap.Bool("anchor", m.anchor != nil))
	return m, nil
}

func (m *Manager) initMetrics() {
	var err error
	m.observationCounter, err = m.meter.Int64Counter(
		"agentmem.manager.observations_total",
		metric.WithDescription("Observations appended through the manager"))
	if err != nil {
		m.logger.Warn("failed to create observation counter", zap.Error(err))
	}
	m.driftCounter, err = m.meter.Int64Counter(
		"agentmem.manager.drift_warnings_total",
		metric.WithDescription("Instructions that drifted off the task anchor"))
	if err != nil {
		m.logger.Warn("failed to create drift counter", zap.Error(err))
	}
}

// SessionID names this manager's transcript buffer.
func (m *Manager) SessionID() string { return m.sessionID }

// Anchor returns the session anchor, or nil when none was set.
func (m *Manager) Anchor() *anchor.Anchor { return m.anchor }

// AddMessage records one turn in the session buffer. A user message is
// scored against the task anchor; a transcript past the observer
// threshold is compressed into observations and the buffer cleared.
// Both outcomes land in the returned Report.
func (m *Manager) AddMessage(ctx context.Context, role session.Role, content string) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Report{}, ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "manager.add_message")
	defer span.End()
	span.SetAttributes(attribute.String("role", string(role)))

	msg, err := m.session.Append(role, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	report := Report{Message: msg}

	if m.anchor != nil && role == session.RoleUser {
		drift, err := m.checkDrift(ctx, content)
		if err != nil {
			span.RecordError(err)
			return report, err
		}
		report.Drift = drift
	}

	if m.observer != nil && m.observer.ShouldObserve(m.session.Transcript()) {
		res, err := m.observeCycle(ctx)
		if err != nil {
			span.RecordError(err)
			return report, err
		}
		report.Observed = &res
	}
	return report, nil
}

// checkDrift scores instruction against the anchor. Below the threshold
// it appends the automatic critical observation and returns the
// advisory error value; the caller already holds m.mu.
func (m *Manager) checkDrift(ctx context.Context, instruction string) (*DriftError, error) {
	score, ok := m.anchor.Score(instruction)
	threshold := m.cfg.Anchor.DriftThreshold
	if !ok || score >= threshold {
		return nil, nil
	}

	body := fmt.Sprintf("Task drift: instruction overlap %.2f below threshold %.2f. Instruction: %s",
		score, threshold, instruction)
	res := m.scrubber.CleanInternal(body)
	obs, err := memory.NewObservation(memory.PriorityCritical, m.clk.Today(), time.Time{}, res.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to build drift observation: %w", err)
	}
	prov := audit.NewProvenance(audit.SourceAnchor, audit.TrustInternal, "", m.clk.Now(), obs.Body)
	if _, err := m.log.Append(ctx, obs, prov); err != nil {
		return nil, fmt.Errorf("failed to append drift observation: %w", err)
	}
	if m.driftCounter != nil {
		m.driftCounter.Add(ctx, 1)
	}
	if m.observationCounter != nil {
		m.observationCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("source", string(audit.SourceAnchor))))
	}
	m.logger.Warn("instruction drifted off the task anchor",
		zap.Float64("score", score),
		zap.Float64("threshold", threshold))
	return &DriftError{Score: score, Threshold: threshold}, nil
}

// observeCycle drains the session buffer into observations. On model
// failure the buffer stays intact so the next message retries; each
// append is atomic and individually chained, so a failure mid-append
// loses nothing already written.
func (m *Manager) observeCycle(ctx context.Context) (observer.Result, error) {
	ctx, span := m.tracer.Start(ctx, "manager.observe_cycle")
	defer span.End()

	input, external := m.observerInput()
	result, err := m.observer.Extract(ctx, input, m.clk.Today())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return observer.Result{}, err
	}

	trust := audit.TrustInternal
	if external {
		trust = audit.TrustExternal
	}
	for _, obs := range result.Observations {
		if external {
			obs.External = true
		}
		prov := audit.NewProvenance(audit.SourceObserver, trust, "", m.clk.Now(), obs.Body)
		if _, err := m.log.Append(ctx, obs, prov); err != nil {
			return observer.Result{}, fmt.Errorf("failed to append observation: %w", err)
		}
		if m.observationCounter != nil {
			m.observationCounter.Add(ctx, 1,
				metric.WithAttributes(attribute.String("source", string(audit.SourceObserver))))
		}
	}
	if err := m.session.Clear(); err != nil {
		return observer.Result{}, fmt.Errorf("failed to clear session buffer: %w", err)
	}

	span.SetAttributes(attribute.Int("observations", len(result.Observations)))
	m.logger.Info("session buffer compressed",
		zap.Int("observations", len(result.Observations)),
		zap.Int("skipped", result.Skipped),
		zap.Bool("external", external))
	return result, nil
}

// observerInput renders the buffered messages for extraction. Tool
// output entered from outside the agent; it is scrubbed and wrapped
// before any model sees it.
func (m *Manager) observerInput() (string, bool) {
	external := false
	var b strings.Builder
	for i, msg := range m.session.Messages() {
		if i > 0 {
			b.WriteString("\n")
		}
		content := msg.Content
		if msg.Role == session.RoleTool {
			external = true
			res := m.scrubber.CleanExternal(content)
			content = m.scrubber.WrapExternal(res.Text, "")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), external
}

// Observe appends one manual observation dated today. A leading
// priority marker in text is honored, the default is 🟡, and a
// truncated body escalates to 🔴.
func (m *Manager) Observe(ctx context.Context, text string) (memory.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return memory.Observation{}, ErrClosed
	}
	return m.appendManual(ctx, text, false, "")
}

// ObserveExternal appends one observation whose body entered from
// outside the agent. The body is scrubbed with the external rules and
// the entry carries the [EXT] marker and origin.
func (m *Manager) ObserveExternal(ctx context.Context, text, origin string) (memory.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return memory.Observation{}, ErrClosed
	}
	return m.appendManual(ctx, text, true, origin)
}

func (m *Manager) appendManual(ctx context.Context, text string, external bool, origin string) (memory.Observation, error) {
	ctx, span := m.tracer.Start(ctx, "manager.observe")
	defer span.End()
	span.SetAttributes(attribute.Bool("external", external))

	priority, body := splitPriority(text)
	var res sanitize.Result
	if external {
		res = m.scrubber.CleanExternal(body)
	} else {
		res = m.scrubber.CleanInternal(body)
	}
	if res.Truncated {
		priority = memory.PriorityCritical
	}

	obs, err := memory.NewObservation(priority, m.clk.Today(), time.Time{}, res.Text)
	if err != nil {
		span.RecordError(err)
		return memory.Observation{}, fmt.Errorf("failed to build observation: %w", err)
	}
	obs.External = external
	obs.Origin = origin

	trust := audit.TrustInternal
	if external {
		trust = audit.TrustExternal
	}
	prov := audit.NewProvenance(audit.SourceManual, trust, origin, m.clk.Now(), obs.Body)
	if _, err := m.log.Append(ctx, obs, prov); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return memory.Observation{}, err
	}
	if m.observationCounter != nil {
		m.observationCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("source", string(audit.SourceManual))))
	}
	return obs, nil
}

// splitPriority peels an optional leading priority marker off a manual
// observation.
func splitPriority(text string) (memory.Priority, string) {
	trimmed := strings.TrimSpace(text)
	for _, p := range []memory.Priority{memory.PriorityCritical, memory.PriorityPattern, memory.PriorityRoutine} {
		if rest, found := strings.CutPrefix(trimmed, string(p)); found {
			return p, strings.TrimLeft(rest, ":- \t")
		}
	}
	return memory.PriorityPattern, trimmed
}

// BuildContext assembles the prompt: the stable block from the
// verified observation log, then the rolling session block.
func (m *Manager) BuildContext(ctx context.Context) (contextbuild.Context, error) {
	if m.isClosed() {
		return contextbuild.Context{}, ErrClosed
	}
	ctx, span := m.tracer.Start(ctx, "manager.build_context")
	defer span.End()

	snap, err := m.log.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return contextbuild.Context{}, err
	}
	var anchorText string
	if m.anchor != nil {
		anchorText = m.anchor.Text()
	}
	built := contextbuild.Build(contextbuild.Input{
		Anchor:       anchorText,
		Observations: snap.Observations,
		Transcript:   m.session.Transcript(),
		Today:        m.clk.Today(),
	})
	span.SetAttributes(attribute.Int("observations", len(snap.Observations)))
	return built, nil
}

// Reflect consolidates the observation log once it has outgrown the
// reflector threshold, or unconditionally when force is set. The guard
// refuses a response that parses to nothing: the log stays untouched
// and Applied is false.
func (m *Manager) Reflect(ctx context.Context, force bool) (reflector.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return reflector.Outcome{}, ErrClosed
	}
	if m.reflector == nil {
		return reflector.Outcome{}, ErrNoAdapter
	}

	ctx, span := m.tracer.Start(ctx, "manager.reflect")
	defer span.End()
	span.SetAttributes(attribute.Bool("force", force))

	snap, err := m.log.Load(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reflector.Outcome{}, err
	}
	raw := string(snap.Raw)
	if !force && !m.reflector.ShouldReflect(raw) {
		return reflector.Outcome{}, nil
	}

	out, err := m.reflector.Reflect(ctx, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	if !out.Applied {
		return out, nil
	}

	prov := audit.NewProvenance(audit.SourceReflector, audit.TrustInternal, "",
		m.clk.Now(), memory.SerializeAll(out.Consolidated))
	if _, err := m.log.Rewrite(ctx, out.Consolidated, prov); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reflector.Outcome{}, fmt.Errorf("failed to rewrite observation log: %w", err)
	}
	m.logger.Info("observation log consolidated",
		zap.Int("entries", len(out.Consolidated)),
		zap.Int("tokens_before", out.TokensBefore),
		zap.Int("tokens_after", out.TokensAfter))
	return out, nil
}

// VerifyAudit replays the audit chain and checks the observation file
// hash against its head.
func (m *Manager) VerifyAudit(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}
	if _, err := audit.Replay(m.auditLog.Records()); err != nil {
		return err
	}
	return m.log.Verify(ctx)
}

// BeginRun creates a run with the given step plan, or resumes it when
// the same plan already exists.
func (m *Manager) BeginRun(runID string, steps []string) (runstate.State, error) {
	if m.isClosed() {
		return runstate.State{}, ErrClosed
	}
	return m.runs.Begin(runID, steps)
}

// CompleteStep marks a step done with its result. Re-completing a step
// is a no-op that keeps the first result. The completion that finishes
// the whole run appends a green summary observation.
func (m *Manager) CompleteStep(ctx context.Context, runID, step, result string) (runstate.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return runstate.State{}, ErrClosed
	}

	state, changed, err := m.runs.Complete(runID, step, result)
	if err != nil {
		return runstate.State{}, err
	}
	if changed && state.Status() == runstate.StatusComplete {
		if err := m.appendRunSummary(ctx, state); err != nil {
			return state, err
		}
	}
	return state, nil
}

func (m *Manager) appendRunSummary(ctx context.Context, state runstate.State) error {
	body := fmt.Sprintf("Run %s completed: %d/%d steps.",
		state.RunID, len(state.CompletedSteps()), len(state.Steps))
	obs, err := memory.NewObservation(memory.PriorityRoutine, m.clk.Today(), time.Time{}, body)
	if err != nil {
		return fmt.Errorf("failed to build run summary: %w", err)
	}
	prov := audit.NewProvenance(audit.SourceObserver, audit.TrustInternal, "", m.clk.Now(), obs.Body)
	if _, err := m.log.Append(ctx, obs, prov); err != nil {
		return fmt.Errorf("failed to append run summary: %w", err)
	}
	if m.observationCounter != nil {
		m.observationCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("source", string(audit.SourceObserver))))
	}
	return nil
}

// FailStep marks a step failed with a cause.
func (m *Manager) FailStep(runID, step, cause string) (runstate.State, error) {
	if m.isClosed() {
		return runstate.State{}, ErrClosed
	}
	return m.runs.Fail(runID, step, cause)
}

// ResetStep rewinds one step to pending, the only way to undo a
// completion.
func (m *Manager) ResetStep(runID, step string) (runstate.State, error) {
	if m.isClosed() {
		return runstate.State{}, ErrClosed
	}
	return m.runs.Reset(runID, step)
}

// ResetFrom rewinds a step and everything after it.
func (m *Manager) ResetFrom(runID, step string) (runstate.State, error) {
	if m.isClosed() {
		return runstate.State{}, ErrClosed
	}
	return m.runs.ResetFrom(runID, step)
}

// RunStatus loads one run.
func (m *Manager) RunStatus(runID string) (runstate.State, error) {
	if m.isClosed() {
		return runstate.State{}, ErrClosed
	}
	return m.runs.Get(runID)
}

// Runs lists every stored run.
func (m *Manager) Runs() ([]runstate.State, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return m.runs.List()
}

// Status is a point-in-time summary of the store.
type Status struct {
	Observations int
	Malformed    int
	LogTokens    int
	AuditRecords int
	LastHash     string
	SessionID    string
	SessionChars int
	AnchorHash   string
}

// Status loads and verifies the store and summarizes it.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if m.isClosed() {
		return Status{}, ErrClosed
	}
	snap, err := m.log.Load(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Observations: len(snap.Observations),
		Malformed:    snap.Malformed,
		LogTokens:    m.counter.Count(string(snap.Raw)),
		AuditRecords: m.auditLog.Len(),
		LastHash:     m.auditLog.LastHash(),
		SessionID:    m.sessionID,
		SessionChars: m.session.Chars(),
	}
	if m.anchor != nil {
		st.AnchorHash = m.anchor.Hash()
	}
	return st, nil
}

// Close releases the session buffer and the audit chain. The manager
// is unusable afterwards; Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return errors.Join(m.session.Close(), m.auditLog.Close())
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
