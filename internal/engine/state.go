package engine

// ToolExchange pairs a tool call with the result it produced.
type ToolExchange struct {
	CallID string
	Name   string
	Args   map[string]any
	Result string
}

type State struct {
	History  []ChatMessage // Conversation history
	Step     int           // Current step (increments only on success)
	Retries  int           // Retry attempts (tracked separately from steps)
	Done     bool          // True when LLM provides final answer (no tool calls)
	Model    string        // LLM model name
	MaxSteps int           // Maximum steps before stopping
	Totals   Usage         // Accumulated token usage across all calls
}

func (s *State) Append(msg ChatMessage) { s.History = append(s.History, msg) }

// FinalText returns the content of the last assistant message.
func (s *State) FinalText() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i].Content
		}
	}
	return ""
}

// PairExchanges matches tool calls to tool result messages by call ID.
// Calls without a result and results without a call are dropped.
func PairExchanges(history []ChatMessage) []ToolExchange {
	results := make(map[string]string)
	for _, m := range history {
		if m.Role == RoleTool && m.Name != "" {
			results[m.Name] = m.Content
		}
	}

	var out []ToolExchange
	seen := make(map[string]bool)
	for _, m := range history {
		if m.Role != RoleAssistant {
			continue
		}
		for _, c := range m.ToolCalls {
			res, ok := results[c.ID]
			if c.ID == "" || !ok || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, ToolExchange{CallID: c.ID, Name: c.Name, Args: c.Args, Result: res})
		}
	}
	return out
}
