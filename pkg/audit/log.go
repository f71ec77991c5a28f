package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

// Log is the append-only audit chain backing one observation log.
//
// A Log owns its file handle for its lifetime; it is safe for
// concurrent use within a process. Cross-process serialization is the
// observation log's responsibility (mutations happen under its advisory
// lock).
type Log struct {
	path   string
	clk    clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	records []Record
	closed  bool
}

// Open reads and validates the audit file at path, creating it empty if
// missing. A broken chain fails with ErrChainBroken; the caller must
// not write further.
func Open(path string, clk clock.Clock, logger *zap.Logger) (*Log, error) {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read audit file: %w", err)
	}

	records, err := parseRecords(data)
	if err != nil {
		return nil, err
	}
	if _, err := Replay(records); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file for append: %w", err)
	}

	return &Log{
		path:    path,
		clk:     clk,
		logger:  logger,
		file:    file,
		writer:  bufio.NewWriter(file),
		records: records,
	}, nil
}

// Append writes one record continuing the chain. logSHA256 must be the
// hash of the observation file after the mutation this record
// describes. The record is flushed and fsynced before returning.
func (l *Log) Append(prov Provenance, charDelta int, logSHA256 string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Record{}, ErrClosed
	}

	rec := Record{
		TS:            l.clk.Now(),
		Source:        prov.Source,
		CharDelta:     charDelta,
		LogSHA256:     logSHA256,
		PrevSHA256:    l.lastHashLocked(),
		Trust:         prov.Trust,
		Origin:        prov.Origin,
		ContentSHA256: prov.ContentSHA256,
	}
	if err := rec.validate(); err != nil {
		return Record{}, fmt.Errorf("invalid audit record: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("failed to write audit record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return Record{}, fmt.Errorf("failed to flush audit record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return Record{}, fmt.Errorf("failed to sync audit file: %w", err)
	}

	l.records = append(l.records, rec)
	l.logger.Debug("appended audit record",
		zap.String("source", string(rec.Source)),
		zap.Int("char_delta", rec.CharDelta),
		zap.Int("chain_len", len(l.records)))
	return rec, nil
}

// Verify checks obsData against the last record. A store with no
// records verifies only as empty.
func (l *Log) Verify(obsData []byte) error {
	l.mu.Lock()
	expected := l.lastHashLocked()
	l.mu.Unlock()

	actual := HashBytes(obsData)
	if actual != expected {
		return &TamperError{Expected: expected, Actual: actual}
	}
	return nil
}

// LastHash returns the log_sha256 of the newest record, or the
// empty-file hash when the chain is empty.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHashLocked()
}

func (l *Log) lastHashLocked() string {
	if len(l.records) == 0 {
		return EmptyFileHash
	}
	return l.records[len(l.records)-1].LogSHA256
}

// Records returns a copy of all records in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Close flushes and closes the audit file. Further appends fail with
// ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to flush audit file: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}
	return nil
}

// Replay walks the chain from the empty-file hash and returns the final
// observation-file hash it proves. The first linkage violation fails
// with ErrChainBroken.
func Replay(records []Record) (string, error) {
	prev := EmptyFileHash
	for i, rec := range records {
		if err := rec.validate(); err != nil {
			return "", fmt.Errorf("%w: record %d: %v", ErrChainBroken, i, err)
		}
		if rec.PrevSHA256 != prev {
			return "", fmt.Errorf("%w: record %d prev_sha256 %s does not match %s", ErrChainBroken, i, rec.PrevSHA256, prev)
		}
		prev = rec.LogSHA256
	}
	return prev, nil
}

// parseRecords decodes the JSONL audit file. Audit parsing is strict:
// any malformed line means the chain cannot be trusted.
func parseRecords(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrChainBroken, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainBroken, err)
	}
	return records, nil
}
