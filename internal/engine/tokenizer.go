package engine

import (
	"encoding/json"
	"unicode/utf8"
)

// Per-item framing overhead added by chat APIs.
const (
	messageOverheadTokens = 4
	schemaOverheadTokens  = 10
)

// ApproxTokens is the deterministic characters/4 estimate used wherever a
// provider does not report usage.
func ApproxTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// MessageTokens estimates the prompt size of msgs, including role names,
// tool call names and arguments.
func MessageTokens(msgs []ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += ApproxTokens(string(m.Role)) + ApproxTokens(m.Content) + messageOverheadTokens
		for _, tc := range m.ToolCalls {
			total += ApproxTokens(tc.Name) + ApproxTokens(argsText(tc.Args))
		}
	}
	return total
}

// SchemaTokens estimates the prompt size of tool schemas.
func SchemaTokens(schemas []ToolSchema) int {
	total := 0
	for _, s := range schemas {
		total += ApproxTokens(s.Name) + ApproxTokens(s.Description) + ApproxTokens(s.JSONSchema) + schemaOverheadTokens
	}
	return total
}

func argsText(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}
