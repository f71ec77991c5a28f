package memory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

// maxStoredErrors caps the detailed parse errors kept per pass;
// ErrorCount keeps the full tally.
const maxStoredErrors = 10

// ParseError describes one skipped entry.
type ParseError struct {
	// Block is the zero-based index of the offending entry.
	Block int
	// Err is a short description of what was wrong.
	Err string
}

// ParseResult carries the observations recovered from a parse pass and
// the malformed entries that were skipped.
type ParseResult struct {
	Observations []Observation
	// ErrorCount is the total number of skipped entries.
	ErrorCount int
	// Errors holds details for the first maxStoredErrors failures.
	Errors []ParseError
}

func (r *ParseResult) addError(block int, format string, args ...any) {
	r.ErrorCount++
	if len(r.Errors) < maxStoredErrors {
		r.Errors = append(r.Errors, ParseError{Block: block, Err: fmt.Sprintf(format, args...)})
	}
}

var (
	blankLineRE = regexp.MustCompile(`\n{2,}`)
	// headerRE matches the priority marker and tolerates separator
	// characters between it and the key/value pairs.
	headerRE = regexp.MustCompile(`^(🔴|🟡|🟢)[\s:\-]*(.*)$`)

	observedOnRE = regexp.MustCompile(`\bobserved_on:(\d{4}-\d{2}-\d{2})\b`)
	eventDateRE  = regexp.MustCompile(`\bevent_date:(\d{4}-\d{2}-\d{2})\b`)
)

// ParseDocument parses full-document grammar: entries separated by
// blank lines, each led by a header line with observed_on/event_date
// pairs. Used for the stored file and for reflection responses.
// Malformed entries are skipped and counted, never fatal.
func ParseDocument(text string) ParseResult {
	var result ParseResult

	for i, block := range blankLineRE.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		obs, err := parseBlock(block)
		if err != nil {
			result.addError(i, "%v", err)
			continue
		}
		result.Observations = append(result.Observations, obs)
	}
	return result
}

// parseBlock parses one blank-line-delimited entry: header line, then
// body.
func parseBlock(block string) (Observation, error) {
	header := block
	body := ""
	if idx := strings.IndexByte(block, '\n'); idx >= 0 {
		header = block[:idx]
		body = block[idx+1:]
	}

	m := headerRE.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return Observation{}, errors.New("no priority marker")
	}

	obs, err := parseHeaderRest(m[2])
	if err != nil {
		return Observation{}, err
	}
	obs.Priority = Priority(m[1])
	obs.Body = strings.TrimRight(body, "\n")

	if err := obs.Validate(); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

// ParseLines parses the line grammar used by observation-extraction
// responses: each entry is one priority-marked line; lines without a
// marker continue the previous body; anything before the first marker
// is preamble and ignored. Both dates default to defaultDate unless the
// line carries explicit pairs.
func ParseLines(text string, defaultDate time.Time) ParseResult {
	var result ParseResult
	defaultDate = clock.Midnight(defaultDate)

	var current *Observation
	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(current.Body)
		if err := current.Validate(); err != nil {
			result.addError(len(result.Observations)+result.ErrorCount, "%v", err)
		} else {
			result.Observations = append(result.Observations, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		m := headerRE.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			if current != nil && strings.TrimSpace(line) != "" {
				current.Body += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		flush()

		obs := Observation{
			Priority:   Priority(m[1]),
			ObservedOn: defaultDate,
		}
		// Honor explicit date pairs when the model volunteers them;
		// the rest of the line stays the body either way.
		rest := m[2]
		if sub := observedOnRE.FindStringSubmatch(rest); sub != nil {
			if d, err := time.Parse(dateLayout, sub[1]); err == nil {
				obs.ObservedOn = d.UTC()
			}
			rest = observedOnRE.ReplaceAllString(rest, "")
		}
		if sub := eventDateRE.FindStringSubmatch(rest); sub != nil {
			if d, err := time.Parse(dateLayout, sub[1]); err == nil {
				obs.EventDate = d.UTC()
			}
			rest = eventDateRE.ReplaceAllString(rest, "")
		}
		if obs.EventDate.IsZero() {
			obs.EventDate = obs.ObservedOn
		}
		obs.Body = strings.Join(strings.Fields(rest), " ")
		current = &obs
	}
	flush()
	return result
}

// parseHeaderRest parses everything after the priority marker:
// observed_on and event_date pairs, the [EXT] marker, an origin that
// runs to end of line, a legacy relative pair that is ignored, and
// unknown keys that are ignored.
func parseHeaderRest(rest string) (Observation, error) {
	var obs Observation

	if idx := strings.Index(rest, "origin:"); idx >= 0 {
		obs.Origin = strings.TrimSpace(rest[idx+len("origin:"):])
		rest = rest[:idx]
	}

	for _, field := range strings.Fields(rest) {
		switch {
		case strings.HasPrefix(field, "observed_on:"):
			d, err := time.Parse(dateLayout, strings.TrimPrefix(field, "observed_on:"))
			if err != nil {
				return Observation{}, fmt.Errorf("bad observed_on date: %v", err)
			}
			obs.ObservedOn = d.UTC()
		case strings.HasPrefix(field, "event_date:"):
			d, err := time.Parse(dateLayout, strings.TrimPrefix(field, "event_date:"))
			if err != nil {
				return Observation{}, fmt.Errorf("bad event_date date: %v", err)
			}
			obs.EventDate = d.UTC()
		case field == "[EXT]":
			obs.External = true
		case strings.HasPrefix(field, "relative:"):
			// Legacy stored label; recomputed at render time.
		default:
			// Unknown keys and stray tokens are ignored.
		}
	}

	if obs.ObservedOn.IsZero() {
		return Observation{}, ErrMissingDate
	}
	if obs.EventDate.IsZero() {
		obs.EventDate = obs.ObservedOn
	}
	return obs, nil
}
