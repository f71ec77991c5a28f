package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/internal/fileutil"
	"github.com/fyrsmithlabs/agentmem/pkg/audit"
	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

var (
	// ErrNotInitialized is returned when the observation file does not
	// exist yet. Call Initialize first.
	ErrNotInitialized = errors.New("memory: observation log not initialized")
	// ErrLockTimeout is returned when the advisory file lock could not
	// be acquired before the context expired.
	ErrLockTimeout = errors.New("memory: could not acquire file lock")
)

const (
	fileMode       = 0o600
	lockRetryDelay = 25 * time.Millisecond
)

// Config configures an observation log.
type Config struct {
	// Path is the observation file, normally <root>/memory/observations.md.
	Path string
	// Clock supplies timestamps for audit records. Defaults to the
	// system clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Log is the durable observation store. All mutations go through it:
// they are serialized by a process mutex plus an advisory file lock,
// written atomically, and recorded in the audit chain.
type Log struct {
	path   string
	clk    clock.Clock
	logger *zap.Logger
	audit  *audit.Log

	// mu serializes goroutines in this process; flk serializes other
	// processes. flock alone cannot do both: a second flock call on the
	// same descriptor succeeds immediately.
	mu  sync.Mutex
	flk *flock.Flock
}

// NewLog wires an observation log to its audit chain.
func NewLog(cfg Config, auditLog *audit.Log) (*Log, error) {
	if cfg.Path == "" {
		return nil, errors.New("memory: path is required")
	}
	if auditLog == nil {
		return nil, errors.New("memory: audit log is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Log{
		path:   cfg.Path,
		clk:    cfg.Clock,
		logger: cfg.Logger,
		audit:  auditLog,
		// The lock lives beside the observation file, not on it:
		// atomic replace swaps the inode, which would orphan a lock
		// held on the file itself.
		flk: flock.New(cfg.Path + ".lock"),
	}, nil
}

// Path returns the observation file path.
func (l *Log) Path() string {
	return l.path
}

// Snapshot is the parsed state of the observation file at one point in
// time.
type Snapshot struct {
	Observations []Observation
	// Malformed is the number of blocks the parser skipped.
	Malformed int
	// Raw is the exact file content the snapshot was parsed from.
	Raw []byte
}

// Initialize creates an empty observation file and writes the genesis
// audit record. Calling it on an initialized store is a no-op.
func (l *Log) Initialize(ctx context.Context) error {
	unlock, err := l.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := fileutil.WriteFileAtomic(l.path, nil, fileMode); err != nil {
			return fmt.Errorf("failed to create observation file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to stat observation file: %w", err)
	}

	if l.audit.Len() > 0 {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("failed to read observation file: %w", err)
	}
	prov := audit.Provenance{
		Source:    audit.SourceInit,
		Trust:     audit.TrustInternal,
		Timestamp: l.clk.Now(),
	}
	if _, err := l.audit.Append(prov, 0, audit.HashBytes(data)); err != nil {
		return fmt.Errorf("failed to write init audit record: %w", err)
	}
	l.logger.Info("initialized observation store", zap.String("path", l.path))
	return nil
}

// Load reads and parses the observation file, verifying the bytes
// against the audit chain first.
func (l *Log) Load(ctx context.Context) (Snapshot, error) {
	unlock, err := l.rlock(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	defer unlock()
	return l.loadLocked()
}

// Append inserts obs into the file preserving newest-first order and
// records the write in the audit chain. Existing bytes are spliced
// around, never rewritten, so malformed blocks survive untouched.
func (l *Log) Append(ctx context.Context, obs Observation, prov audit.Provenance) (audit.Record, error) {
	if err := obs.Validate(); err != nil {
		return audit.Record{}, err
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return audit.Record{}, err
	}
	defer unlock()

	data, err := l.readVerified()
	if err != nil {
		return audit.Record{}, err
	}
	next := splice(string(data), obs)
	return l.writeLocked([]byte(next), data, prov)
}

// Rewrite replaces the entire file with the canonical serialization of
// observations, newest first. Consolidation is the only caller: this is
// the one destructive write in the system.
func (l *Log) Rewrite(ctx context.Context, observations []Observation, prov audit.Provenance) (audit.Record, error) {
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			return audit.Record{}, err
		}
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return audit.Record{}, err
	}
	defer unlock()

	data, err := l.readVerified()
	if err != nil {
		return audit.Record{}, err
	}

	sorted := make([]Observation, len(observations))
	copy(sorted, observations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedOn.After(sorted[j].ObservedOn)
	})
	next := SerializeAll(sorted)
	return l.writeLocked([]byte(next), data, prov)
}

// Verify re-checks the current file bytes against the audit chain.
func (l *Log) Verify(ctx context.Context) error {
	unlock, err := l.rlock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = l.readVerified()
	return err
}

func (l *Log) loadLocked() (Snapshot, error) {
	data, err := l.readVerified()
	if err != nil {
		return Snapshot{}, err
	}
	res := ParseDocument(string(data))
	if res.ErrorCount > 0 {
		l.logger.Warn("skipped malformed observation blocks",
			zap.String("path", l.path),
			zap.Int("count", res.ErrorCount))
	}
	return Snapshot{
		Observations: res.Observations,
		Malformed:    res.ErrorCount,
		Raw:          data,
	}, nil
}

func (l *Log) readVerified() ([]byte, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read observation file: %w", err)
	}
	if err := l.audit.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}

// writeLocked commits new file content and its audit record. The file
// is written before the record: a crash between the two surfaces as
// tamper on the next load, which is the honest failure mode.
func (l *Log) writeLocked(next, prev []byte, prov audit.Provenance) (audit.Record, error) {
	if err := fileutil.WriteFileAtomic(l.path, next, fileMode); err != nil {
		return audit.Record{}, fmt.Errorf("failed to write observation file: %w", err)
	}
	delta := utf8.RuneCount(next) - utf8.RuneCount(prev)
	rec, err := l.audit.Append(prov, delta, audit.HashBytes(next))
	if err != nil {
		return audit.Record{}, err
	}
	l.logger.Debug("observation file updated",
		zap.String("source", string(prov.Source)),
		zap.Int("char_delta", delta))
	return rec, nil
}

func (l *Log) lock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	ok, err := l.flk.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, ErrLockTimeout
	}
	return func() {
		_ = l.flk.Unlock()
		l.mu.Unlock()
	}, nil
}

func (l *Log) rlock(ctx context.Context) (func(), error) {
	l.mu.Lock()
	ok, err := l.flk.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, ErrLockTimeout
	}
	return func() {
		_ = l.flk.Unlock()
		l.mu.Unlock()
	}, nil
}

type span struct{ start, end int }

// blockSpans locates blank-line-delimited blocks by byte offset.
func blockSpans(content string) []span {
	seps := blankLineRE.FindAllStringIndex(content, -1)
	var spans []span
	start := 0
	for _, sep := range seps {
		if sep[0] > start {
			spans = append(spans, span{start, sep[0]})
		}
		start = sep[1]
	}
	if start < len(content) {
		spans = append(spans, span{start, len(content)})
	}
	return spans
}

// splice inserts the serialized form of obs before the first block
// whose observed_on is strictly older. Ties keep insertion order: a
// same-day entry lands after the blocks already there. Blocks the
// parser cannot read never match, so they stay exactly where they are.
func splice(content string, obs Observation) string {
	block := obs.Serialize()
	trimmed := strings.TrimRight(content, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return block + "\n"
	}

	at := -1
	for _, s := range blockSpans(trimmed) {
		parsed, err := parseBlock(strings.TrimSpace(trimmed[s.start:s.end]))
		if err != nil {
			continue
		}
		if parsed.ObservedOn.Before(obs.ObservedOn) {
			at = s.start
			break
		}
	}

	switch {
	case at < 0:
		return trimmed + "\n\n" + block + "\n"
	case at == 0:
		return block + "\n\n" + trimmed + "\n"
	default:
		return trimmed[:at] + block + "\n\n" + trimmed[at:] + "\n"
	}
}
