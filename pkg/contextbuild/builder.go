// Package contextbuild assembles the prompt context from memory state.
//
// The output is two blocks. The stable block holds the task anchor and
// the rendered observation log; given the same inputs it is
// byte-identical build after build, which keeps provider prompt caches
// warm. The rolling block holds the live session transcript and is
// expected to change every turn.
package contextbuild

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentmem/pkg/memory"
)

// Input is everything a build needs. Today fixes the reference date for
// relative labels; use the session's date so the stable block does not
// shift mid-session.
type Input struct {
	// Anchor is the pinned task statement. Empty omits the section.
	Anchor       string
	Observations []memory.Observation
	// Transcript is the rolling session content.
	Transcript string
	Today      time.Time
}

// Context is one assembled prompt context.
type Context struct {
	// Stable is the cache-friendly prefix block.
	Stable string
	// Rolling is the per-turn session block.
	Rolling string
}

// Full concatenates both blocks.
func (c Context) Full() string {
	return c.Stable + "\n" + c.Rolling
}

// Build renders in into its two blocks. Observations render in the
// order given; the store keeps them newest first.
func Build(in Input) Context {
	return Context{
		Stable:  buildStable(in),
		Rolling: buildRolling(in),
	}
}

func buildStable(in Input) string {
	var b strings.Builder

	if anchor := strings.TrimSpace(in.Anchor); anchor != "" {
		b.WriteString("<task_anchor>\n")
		b.WriteString(anchor)
		b.WriteString("\n</task_anchor>\n\n")
	}

	b.WriteString("<observation_log>\n")
	for i, obs := range in.Observations {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(obs.Render(in.Today))
	}
	if len(in.Observations) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("</observation_log>\n")
	return b.String()
}

func buildRolling(in Input) string {
	var b strings.Builder
	b.WriteString("<session>\n")
	if transcript := strings.TrimRight(in.Transcript, "\n"); transcript != "" {
		b.WriteString(transcript)
		b.WriteString("\n")
	}
	b.WriteString("</session>\n")
	return b.String()
}
