package session

import (
	"time"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCallRecord is a tool invocation attached to a logged message.
type ToolCallRecord struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result"`
}

// Message is one line of a conversation log. Messages are never modified
// once appended.
type Message struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// WithMetadata returns a copy of m with key set in its metadata.
func (m Message) WithMetadata(key string, value any) Message {
	md := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// Metadata is the session.json record.
type Metadata struct {
	SessionID     string    `json:"session_id"`
	UserID        *string   `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	ContextTokens int       `json:"context_tokens"`
}

// User returns the owning user ID, or "" for anonymous sessions.
func (m Metadata) User() string {
	if m.UserID == nil {
		return ""
	}
	return *m.UserID
}
