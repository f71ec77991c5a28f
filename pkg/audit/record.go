package audit

import (
	"fmt"
	"time"
)

// Source identifies which writer produced an observation-log mutation.
type Source string

const (
	// SourceInit marks the record written when a store is first created.
	SourceInit Source = "init"
	// SourceObserver marks appends produced by threshold-triggered
	// session compression.
	SourceObserver Source = "observer"
	// SourceReflector marks the destructive rewrite of the full log.
	SourceReflector Source = "reflector"
	// SourceManual marks caller-initiated observations.
	SourceManual Source = "manual"
	// SourceAnchor marks the automatic observation appended on task
	// drift.
	SourceAnchor Source = "anchor"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceInit, SourceObserver, SourceReflector, SourceManual, SourceAnchor:
		return true
	}
	return false
}

// Trust classifies where content originated.
type Trust string

const (
	// TrustInternal marks content generated inside the agent process.
	TrustInternal Trust = "internal"
	// TrustExternal marks content that entered from outside (web pages,
	// files, tool output). External entries render with an [EXT] marker.
	TrustExternal Trust = "external"
)

// Provenance describes one write: who produced it, how much it is
// trusted, where the content came from, and the hash of the content
// itself.
type Provenance struct {
	Source        Source
	Trust         Trust
	Origin        string
	Timestamp     time.Time
	ContentSHA256 string
}

// NewProvenance builds a tag for content written at now.
func NewProvenance(source Source, trust Trust, origin string, now time.Time, content string) Provenance {
	return Provenance{
		Source:        source,
		Trust:         trust,
		Origin:        origin,
		Timestamp:     now.UTC(),
		ContentSHA256: HashString(content),
	}
}

// Record is one link in the audit chain. Field order is fixed by the
// struct so json.Marshal emits deterministic lines; maps would not.
type Record struct {
	TS         time.Time `json:"ts"`
	Source     Source    `json:"source"`
	CharDelta  int       `json:"char_delta"`
	LogSHA256  string    `json:"log_sha256"`
	PrevSHA256 string    `json:"prev_sha256"`

	// Inline provenance. Empty for records whose write carried no tag
	// (init).
	Trust         Trust  `json:"trust,omitempty"`
	Origin        string `json:"origin,omitempty"`
	ContentSHA256 string `json:"content_sha256,omitempty"`
}

// validate checks structural invariants of a single record.
func (r Record) validate() error {
	if !r.Source.Valid() {
		return fmt.Errorf("unknown audit source %q", r.Source)
	}
	if len(r.LogSHA256) != 64 {
		return fmt.Errorf("log_sha256 must be 64 hex chars, got %d", len(r.LogSHA256))
	}
	if len(r.PrevSHA256) != 64 {
		return fmt.Errorf("prev_sha256 must be 64 hex chars, got %d", len(r.PrevSHA256))
	}
	return nil
}
