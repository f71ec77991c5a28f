package sanitize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxEntryChars is the per-entry body budget in runes.
	DefaultMaxEntryChars = 2048

	// MinEntryChars is the smallest usable budget; anything tighter
	// cannot hold a redaction literal plus the truncation suffix.
	MinEntryChars = 64

	// maxScanBytes bounds the text handed to the pattern scan. Anything
	// beyond it cannot survive the entry budget anyway.
	maxScanBytes = 1 << 20

	// truncSuffix is appended to budget-cut text; 14 runes.
	truncSuffix = " … [TRUNCATED]"

	// redactedAll replaces text that consisted entirely of matches.
	redactedAll = "[REDACTED:all]"
)

var redactionLiteral = regexp.MustCompile(`\[REDACTED:[a-z0-9_]+\]`)

// Config configures a Sanitizer.
type Config struct {
	// MaxEntryChars caps body length in runes. Default 2048.
	MaxEntryChars int
	// RuleFilePath optionally names a TOML file with extra rules and an
	// allowlist (see RuleFile).
	RuleFilePath string
}

// Flag records one redaction reason and how many matches it covered.
type Flag struct {
	Reason string
	Count  int
}

// Result is the outcome of a clean pass.
type Result struct {
	// Text is the sanitized (and possibly truncated) text.
	Text string
	// Flags lists redaction reasons, sorted, truncation included.
	Flags []Flag
	// Truncated reports whether the entry budget cut the text. Callers
	// escalate observation priority when set.
	Truncated bool
}

// Redacted reports whether any pattern matched.
func (r Result) Redacted() bool {
	for _, f := range r.Flags {
		if f.Reason != ReasonTruncated {
			return true
		}
	}
	return false
}

// Sanitizer applies the detection rules and the entry budget.
type Sanitizer struct {
	maxEntryChars int
	rules         []rule
	allow         []*regexp.Regexp
}

// New creates a Sanitizer. Zero config fields get defaults; a
// configured rule file must load cleanly.
func New(cfg Config) (*Sanitizer, error) {
	if cfg.MaxEntryChars == 0 {
		cfg.MaxEntryChars = DefaultMaxEntryChars
	}
	if cfg.MaxEntryChars < MinEntryChars {
		return nil, fmt.Errorf("max entry chars must be >= %d, got %d", MinEntryChars, cfg.MaxEntryChars)
	}

	s := &Sanitizer{
		maxEntryChars: cfg.MaxEntryChars,
		rules:         builtinRules(),
	}

	if cfg.RuleFilePath != "" {
		rf, err := LoadRuleFile(cfg.RuleFilePath)
		if err != nil {
			return nil, err
		}
		for _, r := range rf.Rules {
			s.rules = append(s.rules, rule{reason: r.Reason, pattern: regexp.MustCompile(r.Pattern)})
		}
		for _, p := range rf.Allowlist.Regexes {
			s.allow = append(s.allow, regexp.MustCompile(p))
		}
	}

	return s, nil
}

// MaxEntryChars returns the configured body budget.
func (s *Sanitizer) MaxEntryChars() int {
	return s.maxEntryChars
}

// CleanExternal sanitizes text that entered from outside the agent.
// The result must still be wrapped with WrapExternal before it reaches
// the model.
func (s *Sanitizer) CleanExternal(text string) Result {
	return s.clean(text)
}

// CleanInternal sanitizes agent-generated text, such as parsed
// observation bodies, before persistence.
func (s *Sanitizer) CleanInternal(text string) Result {
	return s.clean(text)
}

// WrapExternal wraps sanitized external text in origin-bearing
// delimiters. An empty origin renders as "unknown".
func (s *Sanitizer) WrapExternal(text, origin string) string {
	if origin == "" {
		origin = "unknown"
	}
	// The origin sits inside the delimiter tag; strip characters that
	// could break out of it.
	origin = strings.NewReplacer("<", "", ">", "", "\"", "", "\n", " ", "\r", " ").Replace(origin)
	return fmt.Sprintf("<external_content origin=%q>\n%s\n</external_content>", origin, text)
}

// redaction tracks one matched span.
type redaction struct {
	start, end int
	reason     string
}

func (s *Sanitizer) clean(text string) Result {
	if text == "" {
		return Result{}
	}
	if len(text) > maxScanBytes {
		cut := maxScanBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	var spans []redaction
	byReason := make(map[string]int)
	for _, r := range s.rules {
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			match := text[m[0]:m[1]]
			if s.isAllowed(match) {
				continue
			}
			spans = append(spans, redaction{start: m[0], end: m[1], reason: r.reason})
			byReason[r.reason]++
		}
	}

	cleaned := text
	if len(spans) > 0 {
		cleaned = applyRedactions(text, spans)
	}

	// Text that was nothing but matches collapses to a single token.
	if len(spans) > 0 {
		stripped := strings.TrimSpace(redactionLiteral.ReplaceAllString(cleaned, ""))
		if stripped == "" {
			cleaned = redactedAll
		}
	}

	cleaned, truncated := s.truncate(cleaned)
	if truncated {
		byReason[ReasonTruncated]++
	}

	return Result{
		Text:      cleaned,
		Flags:     flagsFrom(byReason),
		Truncated: truncated,
	}
}

func (s *Sanitizer) isAllowed(match string) bool {
	for _, p := range s.allow {
		if p.MatchString(match) {
			return true
		}
	}
	return false
}

// truncate enforces the rune budget, cutting on a rune boundary and
// appending the truncation marker.
func (s *Sanitizer) truncate(text string) (string, bool) {
	if utf8.RuneCountInString(text) <= s.maxEntryChars {
		return text, false
	}

	keep := s.maxEntryChars - utf8.RuneCountInString(truncSuffix)
	runes := []rune(text)
	head := strings.TrimRight(string(runes[:keep]), " \t\n")
	return head + truncSuffix, true
}

// applyRedactions merges overlapping spans (first reason wins) and
// rebuilds the string with reason-tagged literals.
func applyRedactions(text string, spans []redaction) string {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	merged := []redaction{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, r := range merged {
		b.WriteString(text[prev:r.start])
		b.WriteString("[REDACTED:")
		b.WriteString(r.reason)
		b.WriteString("]")
		prev = r.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

func flagsFrom(byReason map[string]int) []Flag {
	if len(byReason) == 0 {
		return nil
	}
	flags := make([]Flag, 0, len(byReason))
	for reason, count := range byReason {
		flags = append(flags, Flag{Reason: reason, Count: count})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Reason < flags[j].Reason })
	return flags
}
