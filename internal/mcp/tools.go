package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentmem/pkg/memory"
	"github.com/fyrsmithlabs/agentmem/pkg/runstate"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	s.registerObserveTool()
	s.registerContextTool()
	s.registerVerifyTool()
	s.registerRunStatusTool()
	return nil
}

// ===== MEMORY TOOLS =====

type memoryObserveInput struct {
	Text     string `json:"text" jsonschema:"required,Observation text, optionally prefixed with a priority marker (🔴 🟡 🟢)"`
	External bool   `json:"external,omitempty" jsonschema:"Treat the text as untrusted external content"`
	Origin   string `json:"origin,omitempty" jsonschema:"Where external content came from (URL, file path, tool name)"`
}

type memoryObserveOutput struct {
	Priority   string `json:"priority" jsonschema:"Priority marker the observation was recorded with"`
	Body       string `json:"body" jsonschema:"Sanitized observation body as persisted"`
	ObservedOn string `json:"observed_on" jsonschema:"Date the observation was recorded (YYYY-MM-DD)"`
	External   bool   `json:"external" jsonschema:"True if recorded as external content"`
}

func (s *Server) registerObserveTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_observe",
		Description: "Record a durable observation in the agent's memory. Text is sanitized and audit-chained before it is persisted.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryObserveInput) (*mcp.CallToolResult, memoryObserveOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "memory_observe")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "memory_observe")
			s.metrics.RecordInvocation(ctx, "memory_observe", time.Since(start), toolErr)
		}()

		var obs memory.Observation
		var err error
		if args.External {
			obs, err = s.manager.ObserveExternal(ctx, args.Text, args.Origin)
		} else {
			obs, err = s.manager.Observe(ctx, args.Text)
		}
		if err != nil {
			toolErr = fmt.Errorf("observe failed: %w", err)
			return nil, memoryObserveOutput{}, toolErr
		}

		output := memoryObserveOutput{
			Priority:   string(obs.Priority),
			Body:       obs.Body,
			ObservedOn: obs.ObservedOn.Format("2006-01-02"),
			External:   obs.External,
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Observation recorded: %s %s", output.Priority, output.Body)},
			},
		}, output, nil
	})
}

// ===== CONTEXT TOOLS =====

type contextBuildInput struct {
	StableOnly bool `json:"stable_only,omitempty" jsonschema:"Return only the cache-stable prefix block"`
}

type contextBuildOutput struct {
	Stable  string `json:"stable" jsonschema:"Byte-stable prefix block (anchor and persisted observations)"`
	Rolling string `json:"rolling,omitempty" jsonschema:"Rolling block (session transcript and date line)"`
}

func (s *Server) registerContextTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "context_build",
		Description: "Assemble the two-block prompt context from the verified memory store and the live session buffer.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args contextBuildInput) (*mcp.CallToolResult, contextBuildOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "context_build")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "context_build")
			s.metrics.RecordInvocation(ctx, "context_build", time.Since(start), toolErr)
		}()

		built, err := s.manager.BuildContext(ctx)
		if err != nil {
			toolErr = fmt.Errorf("context build failed: %w", err)
			return nil, contextBuildOutput{}, toolErr
		}

		output := contextBuildOutput{Stable: built.Stable}
		text := built.Stable
		if !args.StableOnly {
			output.Rolling = built.Rolling
			text = built.Full()
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: text},
			},
		}, output, nil
	})
}

// ===== AUDIT TOOLS =====

type auditVerifyInput struct{}

type auditVerifyOutput struct {
	Valid    bool   `json:"valid" jsonschema:"True if the audit chain and observation log verify"`
	Records  int    `json:"records" jsonschema:"Number of audit records in the chain"`
	LastHash string `json:"last_hash" jsonschema:"SHA-256 at the head of the chain"`
	Detail   string `json:"detail,omitempty" jsonschema:"Failure detail when the store does not verify"`
}

func (s *Server) registerVerifyTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "audit_verify",
		Description: "Replay the audit hash chain and verify the observation log against it. Reports tampering instead of erroring.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args auditVerifyInput) (*mcp.CallToolResult, auditVerifyOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "audit_verify")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "audit_verify")
			s.metrics.RecordInvocation(ctx, "audit_verify", time.Since(start), toolErr)
		}()

		st, err := s.manager.Status(ctx)
		if err == nil {
			err = s.manager.VerifyAudit(ctx)
		}

		output := auditVerifyOutput{
			Valid:    err == nil,
			Records:  st.AuditRecords,
			LastHash: st.LastHash,
		}
		summary := fmt.Sprintf("Audit chain verified: %d records", output.Records)
		if err != nil {
			// Tampering is a result, not a tool failure.
			output.Detail = err.Error()
			summary = fmt.Sprintf("Audit verification FAILED: %s", output.Detail)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: summary},
			},
		}, output, nil
	})
}

// ===== RUN TOOLS =====

type runStatusInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"Run identifier. Empty lists every known run."`
}

type runStatusStep struct {
	Name   string `json:"name" jsonschema:"Step name"`
	Status string `json:"status" jsonschema:"pending, in_progress, complete, or failed"`
	Result string `json:"result,omitempty" jsonschema:"Result recorded at completion"`
	Error  string `json:"error,omitempty" jsonschema:"Failure cause when the step failed"`
}

type runStatusEntry struct {
	RunID  string          `json:"run_id" jsonschema:"Run identifier"`
	Status string          `json:"status" jsonschema:"Derived run-level status"`
	Steps  []runStatusStep `json:"steps" jsonschema:"Plan steps in order"`
}

type runStatusOutput struct {
	Runs  []runStatusEntry `json:"runs" jsonschema:"Matching runs"`
	Count int              `json:"count" jsonschema:"Number of runs returned"`
}

// runEntry flattens a durable run state into the tool's wire shape.
func runEntry(state runstate.State) runStatusEntry {
	entry := runStatusEntry{
		RunID:  state.RunID,
		Status: string(state.Status()),
	}
	for _, step := range state.Steps {
		entry.Steps = append(entry.Steps, runStatusStep{
			Name:   step.Name,
			Status: string(step.Status),
			Result: step.Result,
			Error:  step.Error,
		})
	}
	return entry
}

func (s *Server) registerRunStatusTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_status",
		Description: "Inspect the durable step-level state of one run, or list all runs.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runStatusInput) (*mcp.CallToolResult, runStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "run_status")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "run_status")
			s.metrics.RecordInvocation(ctx, "run_status", time.Since(start), toolErr)
		}()

		var states []runstate.State
		if args.RunID != "" {
			state, err := s.manager.RunStatus(args.RunID)
			if err != nil {
				toolErr = fmt.Errorf("run lookup failed: %w", err)
				return nil, runStatusOutput{}, toolErr
			}
			states = []runstate.State{state}
		} else {
			var err error
			states, err = s.manager.Runs()
			if err != nil {
				toolErr = fmt.Errorf("run listing failed: %w", err)
				return nil, runStatusOutput{}, toolErr
			}
		}

		output := runStatusOutput{Count: len(states)}
		for _, state := range states {
			output.Runs = append(output.Runs, runEntry(state))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%d run(s)", output.Count)},
			},
		}, output, nil
	})
}
