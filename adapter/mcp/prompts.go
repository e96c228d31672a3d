package mcp

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterPrompts registers MCP prompts for common sync workflows.
func RegisterPrompts(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}

	srv.Prompt("sync_triage").
		Description("Investigate why a job's FSM state drifted from the local schedule and bring it back in line.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			jobID := args["job_id"]
			if jobID == "" {
				jobID = "<job id>"
			}
			return &mcp.PromptResult{
				Description: "Sync Triage",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`Job %s may be out of sync with the FSM. Please:

1. Check fieldsync://health to rule out an open circuit breaker or a broker outage
2. Pull recent attempts with job.history for the job
3. Look at the last failed record:
   - "missing" users were asked for but are not assigned
   - "stale" users are assigned but were not asked for
   - a timeout or 5xx means the FSM may not have seen the request at all

Then suggest the one tool call that fixes it:
- job.reconcile with the desired user ids for assignment drift
- job.unschedule when the job should not be on the board
- job.reschedule when the window itself is wrong

Explain the warning text if the call comes back as a soft failure.`, jobID),
						},
					},
				},
			}, nil
		})

	srv.Prompt("crew_assignment").
		Description("Turn a list of crew names into a verified FSM assignment.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return &mcp.PromptResult{
				Description: "Crew Assignment",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: `I want to assign a crew to a job. Please:

1. Resolve every name with crew.resolve and list any that were not found
2. Ask me how to handle unresolved names before going further
3. Preview the window with window.compute if I give a date and category
4. Call job.reconcile (existing job) or job.schedule (new job) with the resolved ids

Report the assigned count and any missing or unexpected users from the outcome.`,
						},
					},
				},
			}, nil
		})

	return nil
}
