package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes a tool call. args have already been validated against
// the tool's schema when called through Tool.Execute.
type ToolFunc func(ctx context.Context, callID string, args map[string]any) (ToolResult, error)

// ToolMetadata provides categorization for tools.
type ToolMetadata struct {
	Category string   // e.g., "native", "knowledge", "agents"
	Tags     []string // e.g., ["read-only"]
}

type Tool struct {
	Name        string
	Label       string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	Retryable   bool // Whether this tool can be retried (idempotent tools only)
	Metadata    ToolMetadata
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

// Execute validates args and runs the tool. Invalid input fails before Fn
// runs. A context that is already done yields ErrAborted.
func (t Tool) Execute(ctx context.Context, callID string, args map[string]any) (ToolResult, error) {
	if err := t.ValidateArgs(args); err != nil {
		return ToolResult{}, err
	}
	if err := CheckAbort(ctx); err != nil {
		return ToolResult{}, err
	}
	if t.Fn == nil {
		return ToolResult{}, fmt.Errorf("tool %s has no executor", t.Name)
	}
	return t.Fn(ctx, callID, args)
}

// GetCategory returns the tool category, defaulting to "general" if unset.
func (t Tool) GetCategory() string {
	if t.Metadata.Category == "" {
		return "general"
	}
	return t.Metadata.Category
}

// DecodeArgs converts validated tool arguments into a typed params struct
// using its json tags.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode tool args: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode tool args: %w", err)
	}
	return out, nil
}

// ToolRegistry is the name-indexed tool set handed to the agent loop.
type ToolRegistry map[string]Tool

// Names returns the registered tool names in sorted order.
func (r ToolRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns provider schemas ordered by tool name so that requests are
// deterministic.
func (r ToolRegistry) Schemas() []ToolSchema {
	s := make([]ToolSchema, 0, len(r))
	for _, name := range r.Names() {
		t := r[name]
		s = append(s, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
			Retryable:   t.Retryable,
		})
	}
	return s
}
