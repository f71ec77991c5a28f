package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentmem/pkg/clock"
)

// Priority is the urgency marker of an observation.
type Priority string

const (
	// PriorityCritical marks blockers, security events, and anything
	// that must survive consolidation.
	PriorityCritical Priority = "🔴"
	// PriorityPattern marks recurring behavior worth remembering.
	PriorityPattern Priority = "🟡"
	// PriorityRoutine marks routine completions and context.
	PriorityRoutine Priority = "🟢"
)

// Valid reports whether p is a known priority marker.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityPattern, PriorityRoutine:
		return true
	}
	return false
}

const dateLayout = "2006-01-02"

var (
	// ErrInvalidPriority indicates an unknown priority marker.
	ErrInvalidPriority = errors.New("invalid priority marker")
	// ErrMissingDate indicates a missing observed_on date.
	ErrMissingDate = errors.New("missing observed_on date")
	// ErrEventAfterObserved indicates event_date later than observed_on.
	ErrEventAfterObserved = errors.New("event_date is after observed_on")
	// ErrEmptyBody indicates an observation without content.
	ErrEmptyBody = errors.New("empty observation body")
)

// Observation is one entry in the log.
type Observation struct {
	Priority   Priority
	ObservedOn time.Time
	// EventDate is when the observed fact happened. It defaults to
	// ObservedOn and never exceeds it.
	EventDate time.Time
	// External marks content that entered from outside the agent.
	External bool
	// Origin is the URL or file path external content came from.
	Origin string
	Body   string
}

// NewObservation builds a validated observation. Dates are normalized
// to midnight UTC; a zero eventDate defaults to observedOn; the body is
// trimmed of trailing newlines and the origin of line breaks.
func NewObservation(p Priority, observedOn, eventDate time.Time, body string) (Observation, error) {
	o := Observation{
		Priority:   p,
		ObservedOn: clock.Midnight(observedOn),
		Body:       strings.TrimRight(body, "\n"),
	}
	if eventDate.IsZero() {
		o.EventDate = o.ObservedOn
	} else {
		o.EventDate = clock.Midnight(eventDate)
	}
	if err := o.Validate(); err != nil {
		return Observation{}, err
	}
	return o, nil
}

// Validate checks the observation invariants.
func (o Observation) Validate() error {
	if !o.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, o.Priority)
	}
	if o.ObservedOn.IsZero() {
		return ErrMissingDate
	}
	if o.EventDate.After(o.ObservedOn) {
		return fmt.Errorf("%w: %s > %s", ErrEventAfterObserved,
			o.EventDate.Format(dateLayout), o.ObservedOn.Format(dateLayout))
	}
	if strings.TrimSpace(o.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

// Serialize returns the stored form: the header line with dates, the
// [EXT] marker and origin for external entries, then the body. The
// relative label is never stored.
func (o Observation) Serialize() string {
	var b strings.Builder
	b.WriteString(string(o.Priority))
	b.WriteString(" observed_on:")
	b.WriteString(o.ObservedOn.Format(dateLayout))
	b.WriteString(" event_date:")
	b.WriteString(o.EventDate.Format(dateLayout))
	if o.External {
		b.WriteString(" [EXT]")
	}
	if o.Origin != "" {
		b.WriteString(" origin:")
		b.WriteString(sanitizeOrigin(o.Origin))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(o.Body, "\n"))
	return b.String()
}

// Render returns the context form: [EXT] immediately after the
// priority, plus the relative label recomputed from today.
func (o Observation) Render(today time.Time) string {
	var b strings.Builder
	b.WriteString(string(o.Priority))
	if o.External {
		b.WriteString(" [EXT]")
	}
	b.WriteString(" observed_on:")
	b.WriteString(o.ObservedOn.Format(dateLayout))
	b.WriteString(" event_date:")
	b.WriteString(o.EventDate.Format(dateLayout))
	b.WriteString(" relative:")
	b.WriteString(RelativeLabel(today, o.EventDate))
	if o.Origin != "" {
		b.WriteString(" origin:")
		b.WriteString(sanitizeOrigin(o.Origin))
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(o.Body, "\n"))
	return b.String()
}

// RelativeLabel buckets the distance between today and eventDate:
// 0_days_ago, 1_day_ago, N_days_ago, N_weeks_ago (N >= 2),
// N_months_ago (N >= 2), N_years_ago (N >= 2).
func RelativeLabel(today, eventDate time.Time) string {
	days := int(clock.Midnight(today).Sub(clock.Midnight(eventDate)).Hours() / 24)
	if days < 0 {
		days = 0
	}

	switch {
	case days == 0:
		return "0_days_ago"
	case days == 1:
		return "1_day_ago"
	case days < 14:
		return fmt.Sprintf("%d_days_ago", days)
	case days < 60:
		return fmt.Sprintf("%d_weeks_ago", days/7)
	case days < 730:
		return fmt.Sprintf("%d_months_ago", days/30)
	default:
		return fmt.Sprintf("%d_years_ago", days/365)
	}
}

// SerializeAll renders the full file contents for a sequence of
// observations: entries joined by one blank line, trailing newline,
// empty input producing an empty file.
func SerializeAll(observations []Observation) string {
	if len(observations) == 0 {
		return ""
	}
	entries := make([]string, len(observations))
	for i, o := range observations {
		entries[i] = o.Serialize()
	}
	return strings.Join(entries, "\n\n") + "\n"
}

func sanitizeOrigin(origin string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(origin)
}
