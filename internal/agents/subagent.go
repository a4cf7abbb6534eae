package agents

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

const subAgentSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "The question or task to send to the sub-agent"}
  },
  "required": ["query"],
  "additionalProperties": false
}`

// SubAgentDetails is attached to a successful delegation result.
type SubAgentDetails struct {
	Agent     string   `json:"agent"`
	ToolCalls []string `json:"tool_calls"`
}

type subAgentParams struct {
	Query string `json:"query"`
}

// newSubAgentTool exposes target as a tool. The tool is bound to one
// session and user; its calls go back through m.Delegate.
func newSubAgentTool(m *Manager, target *Config, sessionID, userID string) engine.Tool {
	name := target.Name
	if userID == "" {
		userID = "unknown"
	}
	return engine.Tool{
		Name:        name,
		Label:       name,
		Description: target.Description,
		SchemaJSON:  subAgentSchema,
		Metadata:    engine.ToolMetadata{Category: "agents", Tags: []string{"delegation"}},
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[subAgentParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			resp := m.Delegate(ctx, name, sessionID, userID, params.Query)
			if abort := engine.CheckAbort(ctx); abort != nil {
				return engine.ToolResult{}, abort
			}
			if !resp.Success {
				reason := resp.Error
				if reason == "" {
					reason = resp.Response
				}
				return engine.TextResult(fmt.Sprintf("Sub-agent '%s' failed: %s", name, reason), SubAgentDetails{Agent: name, ToolCalls: resp.ToolCalls}), nil
			}
			return engine.TextResult(resp.Response, SubAgentDetails{Agent: name, ToolCalls: resp.ToolCalls}), nil
		},
	}
}
