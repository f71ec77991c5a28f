// Package runstate tracks multi-step agent runs across crashes.
//
// Each run is one JSON file of ordered steps. Steps complete strictly
// in order and completion is idempotent, so a resumed run can replay
// its plan from the top and only the unfinished steps do work.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/internal/fileutil"
	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

var (
	// ErrNotFound indicates an unknown run id.
	ErrNotFound = errors.New("runstate: run not found")
	// ErrUnknownStep indicates a step name not in the run's plan.
	ErrUnknownStep = errors.New("runstate: unknown step")
	// ErrOutOfOrder indicates a completion before its predecessors.
	ErrOutOfOrder = errors.New("runstate: steps complete in order")
	// ErrStepMismatch indicates a resume with a different plan.
	ErrStepMismatch = errors.New("runstate: existing run has different steps")
	// ErrBadRunID indicates a run id unusable as a file name.
	ErrBadRunID = errors.New("runstate: invalid run id")
)

// Status describes a step or a whole run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Step is one unit of a run's plan.
type Step struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// State is the durable record of one run.
type State struct {
	RunID     string    `json:"run_id"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the run-level status: failed if any step failed,
// complete if every step is, in progress otherwise.
func (s State) Status() Status {
	complete := 0
	for _, step := range s.Steps {
		switch step.Status {
		case StatusFailed:
			return StatusFailed
		case StatusComplete:
			complete++
		}
	}
	if complete == len(s.Steps) && len(s.Steps) > 0 {
		return StatusComplete
	}
	return StatusInProgress
}

// CompletedSteps returns the names of completed steps, in plan order.
func (s State) CompletedSteps() []string {
	var out []string
	for _, step := range s.Steps {
		if step.Status == StatusComplete {
			out = append(out, step.Name)
		}
	}
	return out
}

func (s State) stepIndex(name string) int {
	for i, step := range s.Steps {
		if step.Name == name {
			return i
		}
	}
	return -1
}

// Store persists run states as JSON files under one directory.
type Store struct {
	dir    string
	clk    clock.Clock
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore creates the runs directory if needed.
func NewStore(dir string, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("runstate: dir is required")
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fileutil.EnsureDir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	return &Store{dir: dir, clk: clk, logger: logger}, nil
}

// Begin creates a run with the given plan, or resumes it when the file
// already exists. Resuming with a different plan fails: the caller is
// confused about which run this is.
func (s *Store) Begin(runID string, steps []string) (State, error) {
	if len(steps) == 0 {
		return State{}, errors.New("runstate: at least one step required")
	}
	seen := make(map[string]struct{}, len(steps))
	for _, name := range steps {
		if strings.TrimSpace(name) == "" {
			return State{}, errors.New("runstate: empty step name")
		}
		if _, dup := seen[name]; dup {
			return State{}, fmt.Errorf("runstate: duplicate step %q", name)
		}
		seen[name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(runID)
	if err == nil {
		if len(existing.Steps) != len(steps) {
			return State{}, ErrStepMismatch
		}
		for i, name := range steps {
			if existing.Steps[i].Name != name {
				return State{}, ErrStepMismatch
			}
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return State{}, err
	}

	now := s.clk.Now()
	state := State{
		RunID:     runID,
		Steps:     make([]Step, len(steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, name := range steps {
		state.Steps[i] = Step{Name: name, Status: StatusPending}
	}
	if err := s.write(state); err != nil {
		return State{}, err
	}
	s.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("steps", len(steps)))
	return state, nil
}

// Get loads a run.
func (s *Store) Get(runID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(runID)
}

// Complete marks a step done and stores its result. Completing an
// already-complete step is a no-op that keeps the first result;
// completing ahead of an unfinished predecessor is an error. changed
// reports whether this call did anything.
func (s *Store) Complete(runID, step, result string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read(runID)
	if err != nil {
		return State{}, false, err
	}
	idx := state.stepIndex(step)
	if idx < 0 {
		return State{}, false, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	if state.Steps[idx].Status == StatusComplete {
		return state, false, nil
	}
	for i := 0; i < idx; i++ {
		if state.Steps[i].Status != StatusComplete {
			return State{}, false, fmt.Errorf("%w: %q before %q", ErrOutOfOrder, state.Steps[i].Name, step)
		}
	}

	now := s.clk.Now()
	state.Steps[idx].Status = StatusComplete
	state.Steps[idx].Result = result
	state.Steps[idx].CompletedAt = &now
	state.Steps[idx].Error = ""
	state.UpdatedAt = now
	if err := s.write(state); err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

// Fail marks a step failed with a cause.
func (s *Store) Fail(runID, step, cause string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read(runID)
	if err != nil {
		return State{}, err
	}
	idx := state.stepIndex(step)
	if idx < 0 {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	now := s.clk.Now()
	state.Steps[idx].Status = StatusFailed
	state.Steps[idx].Result = ""
	state.Steps[idx].CompletedAt = nil
	state.Steps[idx].Error = cause
	state.UpdatedAt = now
	if err := s.write(state); err != nil {
		return State{}, err
	}
	s.logger.Warn("run step failed",
		zap.String("run_id", runID),
		zap.String("step", step),
		zap.String("cause", cause))
	return state, nil
}

// Reset rewinds one step to pending. It is the only way to undo a
// completion or a failure.
func (s *Store) Reset(runID, step string) (State, error) {
	return s.reset(runID, step, false)
}

// ResetFrom rewinds a step and everything after it, for replaying a run
// from a known point.
func (s *Store) ResetFrom(runID, step string) (State, error) {
	return s.reset(runID, step, true)
}

func (s *Store) reset(runID, step string, cascade bool) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read(runID)
	if err != nil {
		return State{}, err
	}
	idx := state.stepIndex(step)
	if idx < 0 {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	end := idx + 1
	if cascade {
		end = len(state.Steps)
	}
	for i := idx; i < end; i++ {
		state.Steps[i].Status = StatusPending
		state.Steps[i].Result = ""
		state.Steps[i].CompletedAt = nil
		state.Steps[i].Error = ""
	}
	state.UpdatedAt = s.clk.Now()
	if err := s.write(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// List returns every stored run, sorted by run id.
func (s *Store) List() ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}
	var states []State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		state, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skipped unreadable run file",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].RunID < states[j].RunID })
	return states, nil
}

func (s *Store) path(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, "/\\") || strings.Contains(runID, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadRunID, runID)
	}
	return filepath.Join(s.dir, runID+".json"), nil
}

func (s *Store) read(runID string) (State, error) {
	path, err := s.path(runID)
	if err != nil {
		return State{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, fmt.Errorf("%w: %q", ErrNotFound, runID)
		}
		return State{}, fmt.Errorf("failed to read run file: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse run file: %w", err)
	}
	return state, nil
}

func (s *Store) write(state State) error {
	path, err := s.path(state.RunID)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSONAtomic(path, state, 0o600); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	return nil
}
