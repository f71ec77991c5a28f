// Package anchor pins the task statement declared at session start and
// measures how far incoming work has drifted from it.
//
// Drift is token-set Jaccard similarity after stop-word removal. The
// score is coarse on purpose: the goal is catching an agent that
// wandered onto a different task, not ranking relevance.
package anchor

import (
	"errors"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/agentmem/pkg/audit"
)

// DefaultThreshold is the similarity floor below which a message counts
// as drifted.
const DefaultThreshold = 0.2

// ErrEmptyAnchor is returned when the anchor text has no content
// tokens.
var ErrEmptyAnchor = errors.New("anchor: text has no content tokens")

// Anchor is an immutable task statement with its token set precomputed.
type Anchor struct {
	text   string
	hash   string
	tokens map[string]struct{}
}

// New builds an anchor from the task statement.
func New(text string) (*Anchor, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyAnchor
	}
	trimmed := strings.TrimSpace(text)
	return &Anchor{text: trimmed, hash: audit.HashString(trimmed), tokens: tokens}, nil
}

// Text returns the original task statement.
func (a *Anchor) Text() string {
	return a.text
}

// Hash returns the hex SHA-256 of the task statement. It identifies the
// task across sessions without carrying the text around.
func (a *Anchor) Hash() string {
	return a.hash
}

// Score returns the Jaccard similarity between the anchor and message.
// ok is false when the message has no content tokens; such messages
// carry no drift signal either way.
func (a *Anchor) Score(message string) (float64, bool) {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return 0, false
	}
	return jaccard(a.tokens, tokens), true
}

// Drifted reports whether message scored strictly below threshold.
// Messages with no content tokens never count as drifted.
func (a *Anchor) Drifted(message string, threshold float64) bool {
	score, ok := a.Score(message)
	if !ok {
		return false
	}
	return score < threshold
}

func jaccard(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// stopWords are dropped before comparison; they carry no task identity.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "for": {},
	"from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "not": {}, "of": {}, "on": {}, "or": {}, "so": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "will": {}, "with": {},
	"you": {}, "your": {},
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
