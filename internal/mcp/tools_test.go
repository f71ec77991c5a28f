package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/agentmem/pkg/runstate"
)

func TestRunEntry(t *testing.T) {
	tests := []struct {
		name       string
		state      runstate.State
		wantStatus string
		wantSteps  []runStatusStep
	}{
		{
			name: "in progress with stored result",
			state: runstate.State{
				RunID: "run-1",
				Steps: []runstate.Step{
					{Name: "parse", Status: runstate.StatusComplete, Result: "12 items"},
					{Name: "write", Status: runstate.StatusPending},
				},
			},
			wantStatus: "in_progress",
			wantSteps: []runStatusStep{
				{Name: "parse", Status: "complete", Result: "12 items"},
				{Name: "write", Status: "pending"},
			},
		},
		{
			name: "failed step carries its cause",
			state: runstate.State{
				RunID: "run-2",
				Steps: []runstate.Step{
					{Name: "parse", Status: runstate.StatusComplete},
					{Name: "upload", Status: runstate.StatusFailed, Error: "connection refused"},
				},
			},
			wantStatus: "failed",
			wantSteps: []runStatusStep{
				{Name: "parse", Status: "complete"},
				{Name: "upload", Status: "failed", Error: "connection refused"},
			},
		},
		{
			name: "all steps done",
			state: runstate.State{
				RunID: "run-3",
				Steps: []runstate.Step{
					{Name: "only", Status: runstate.StatusComplete, Result: "ok"},
				},
			},
			wantStatus: "complete",
			wantSteps: []runStatusStep{
				{Name: "only", Status: "complete", Result: "ok"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := runEntry(tt.state)
			assert.Equal(t, tt.state.RunID, entry.RunID)
			assert.Equal(t, tt.wantStatus, entry.Status)
			assert.Equal(t, tt.wantSteps, entry.Steps)
		})
	}
}
