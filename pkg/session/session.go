// Package session buffers the running transcript of one agent run.
//
// Messages land in a JSONL file under the store root so a crashed run
// can be replayed. The buffer is what observation extraction compresses
// and clears once it grows past the token threshold.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

var (
	// ErrInvalidRole indicates an unknown message role.
	ErrInvalidRole = errors.New("session: invalid role")
	// ErrEmptyContent indicates a message without content.
	ErrEmptyContent = errors.New("session: empty content")
	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("session: store is closed")
)

// Message is one transcript entry.
type Message struct {
	TS      time.Time `json:"ts"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
}

// Store is a durable transcript buffer for one run. Safe for concurrent
// use.
type Store struct {
	path   string
	clk    clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	messages []Message
	chars    int
	skipped  int
	closed   bool
}

// Open loads the transcript at path, creating it if missing. Lines that
// do not decode are skipped and counted; a damaged transcript should
// degrade, not brick the run.
func Open(path string, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var (
		messages []Message
		skipped  int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil || !msg.Role.Valid() {
			skipped++
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session file: %w", err)
	}
	if skipped > 0 {
		logger.Warn("skipped malformed session lines",
			zap.String("path", path),
			zap.Int("count", skipped))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file for append: %w", err)
	}

	s := &Store{
		path:     path,
		clk:      clk,
		logger:   logger,
		file:     file,
		writer:   bufio.NewWriter(file),
		messages: messages,
		skipped:  skipped,
	}
	for _, msg := range messages {
		s.chars += utf8.RuneCountInString(msg.Content)
	}
	return s, nil
}

// Append records one message and flushes it to disk.
func (s *Store) Append(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Message{}, ErrClosed
	}

	msg := Message{TS: s.clk.Now(), Role: role, Content: content}
	line, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal session message: %w", err)
	}
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return Message{}, fmt.Errorf("failed to write session message: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return Message{}, fmt.Errorf("failed to flush session message: %w", err)
	}

	s.messages = append(s.messages, msg)
	s.chars += utf8.RuneCountInString(content)
	return msg, nil
}

// Messages returns a copy of the buffered transcript.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of buffered messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Chars returns the total rune count of buffered content.
func (s *Store) Chars() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chars
}

// Skipped returns how many malformed lines Open dropped.
func (s *Store) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Transcript renders the buffer for prompting and token counting, one
// "role: content" paragraph per message.
func (s *Store) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for i, msg := range s.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Clear empties the buffer and truncates the file. Called after the
// transcript has been compressed into observations.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush session file: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate session file: %w", err)
	}
	s.messages = nil
	s.chars = 0
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Close flushes and closes the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.writer.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush session file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	return nil
}
