package agents

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/metrics"
	"github.com/ChamsBouzaiene/skywalker/internal/session"
)

const (
	historyWindow       = 10
	historyExcerptChars = 200
	resultPreviewChars  = 200
)

// Response is the structured outcome of one turn. Failures are reported
// here rather than as Go errors.
type Response struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"session_id"`
	Response  string   `json:"response"`
	ToolCalls []string `json:"tool_calls"`
	Error     string   `json:"error,omitempty"`
}

// ExecutorConfig binds an agent to an LLM, a tool set and a session store.
type ExecutorConfig struct {
	Agent    string
	Prompt   string
	Model    string
	LLM      engine.LLMClient
	Tools    engine.ToolRegistry
	Sessions *session.Manager
	Hooks    engine.Hooks
	Options  engine.ChatOptions
	MaxSteps int
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Executor runs single turns for one (session, agent) pair. It holds no
// per-turn state and is safe for concurrent use.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tools == nil {
		cfg.Tools = engine.ToolRegistry{}
	}
	if cfg.Options.RetryConfig == nil {
		rc := engine.DefaultRetryConfig()
		cfg.Options.RetryConfig = &rc
	}
	return &Executor{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("agent", cfg.Agent)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Executor) Agent() string { return e.cfg.Agent }

func (e *Executor) Model() string { return e.cfg.Model }

// ToolNames lists the tools bound to the executor, sorted.
func (e *Executor) ToolNames() []string { return e.cfg.Tools.Names() }

// Run executes one turn. The user message is logged before the model is
// called; the assistant reply, or an error notice, is logged after.
func (e *Executor) Run(ctx context.Context, sessionID, userID, message string) Response {
	start := time.Now()
	logger := e.logger.With(zap.String("session_id", sessionID))

	resp, err := e.run(ctx, sessionID, userID, message, logger)
	e.cfg.Metrics.ObserveTurn(e.cfg.Agent, err == nil, time.Since(start))
	if err == nil {
		return resp
	}

	logger.Error("agent turn failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	errText := fmt.Sprintf("Agent execution error: %v", err)
	if appendErr := e.cfg.Sessions.AppendMessage(sessionID, e.cfg.Agent, session.NewMessage(session.RoleAssistant, errText)); appendErr != nil {
		logger.Error("failed to record turn failure", zap.Error(appendErr))
	}
	return Response{
		Success:   false,
		SessionID: sessionID,
		Response:  errText,
		ToolCalls: []string{},
		Error:     err.Error(),
	}
}

func (e *Executor) run(ctx context.Context, sessionID, userID, message string, logger *zap.Logger) (Response, error) {
	history, err := e.cfg.Sessions.LoadConversation(sessionID, e.cfg.Agent)
	if err != nil {
		return Response{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	systemText := e.buildContext(sessionID, userID, history)

	userMsg := session.NewMessage(session.RoleUser, message).WithMetadata("user_id", userID)
	if err := e.cfg.Sessions.AppendMessage(sessionID, e.cfg.Agent, userMsg); err != nil {
		return Response{}, fmt.Errorf("failed to record user message: %w", err)
	}

	st := &engine.State{
		Model:    e.cfg.Model,
		MaxSteps: e.cfg.MaxSteps,
		History: []engine.ChatMessage{
			{Role: engine.RoleSystem, Content: systemText},
			{Role: engine.RoleUser, Content: message},
		},
	}
	hooks := engine.Hooks{
		engine.LoggerHook{L: logger},
		e.cfg.Metrics.Hook(),
		&toolLogHook{sessions: e.cfg.Sessions, sessionID: sessionID, agent: e.cfg.Agent, logger: logger},
	}
	hooks = append(hooks, e.cfg.Hooks...)

	logger.Info("agent turn started", zap.String("model", e.cfg.Model), zap.Int("tools", len(e.cfg.Tools)))
	if err := engine.Run(ctx, e.cfg.LLM, e.cfg.Tools, st, hooks, e.cfg.Options); err != nil {
		return Response{}, err
	}

	reply := st.FinalText()
	exchanges := engine.PairExchanges(st.History)
	records := make([]session.ToolCallRecord, 0, len(exchanges))
	names := make([]string, 0, len(exchanges))
	for _, x := range exchanges {
		records = append(records, session.ToolCallRecord{Name: x.Name, Args: x.Args, Result: x.Result})
		names = append(names, x.Name)
	}

	assistant := session.NewMessage(session.RoleAssistant, reply)
	assistant.ToolCalls = records
	if err := e.cfg.Sessions.AppendMessage(sessionID, e.cfg.Agent, assistant); err != nil {
		return Response{}, fmt.Errorf("failed to record assistant message: %w", err)
	}

	in, out := turnTokens(systemText, message, reply, st.Totals)
	contextTokens := engine.ApproxTokens(systemText + message)
	if err := e.cfg.Sessions.UpdateTokens(sessionID, in, out, &contextTokens); err != nil {
		// Accounting is best effort once the reply is on the log.
		logger.Warn("failed to update token counters", zap.Error(err))
	}

	logger.Info("agent turn completed",
		zap.Int("steps", st.Step),
		zap.Strings("tool_calls", names),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
	)
	return Response{
		Success:   true,
		SessionID: sessionID,
		Response:  reply,
		ToolCalls: names,
	}, nil
}

// buildContext composes the system instruction: clock, identifiers, the
// agent prompt and an excerpt of the most recent messages.
func (e *Executor) buildContext(sessionID, userID string, history []session.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Date/Time: %s UTC\n", e.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "User ID: %s\n", userID)
	fmt.Fprintf(&b, "Session ID: %s\n", sessionID)
	b.WriteString("\n")
	b.WriteString(e.cfg.Prompt)

	if len(history) > 0 {
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		b.WriteString("\n\n=== Recent Conversation ===")
		for _, m := range history {
			fmt.Fprintf(&b, "\n%s: %s", strings.ToUpper(string(m.Role)), truncateRunes(m.Content, historyExcerptChars))
		}
	}
	return b.String()
}

// turnTokens prefers provider-reported usage and falls back to the
// characters/4 estimate.
func turnTokens(systemText, message, reply string, usage engine.Usage) (in, out int) {
	if usage.Prompt > 0 || usage.Completion > 0 {
		return usage.Prompt, usage.Completion
	}
	return engine.ApproxTokens(systemText + message), engine.ApproxTokens(reply)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// toolLogHook records tool activity on the agent's conversation as tool
// messages. Tool calls run in parallel; AppendMessage serializes writes.
type toolLogHook struct {
	engine.NopHook
	sessions  *session.Manager
	sessionID string
	agent     string
	logger    *zap.Logger
}

func (h *toolLogHook) OnToolCall(_ context.Context, _ *engine.State, c engine.ToolCall) {
	msg := session.NewMessage(session.RoleTool, "Tool call: "+c.Name).
		WithMetadata("tool_name", c.Name).
		WithMetadata("tool_params", c.Args).
		WithMetadata("tool_status", "started")
	h.append(msg)
}

func (h *toolLogHook) OnToolResult(_ context.Context, _ *engine.State, c engine.ToolCall, res engine.ToolResult, err error) {
	if err != nil {
		msg := session.NewMessage(session.RoleTool, "Tool error: "+c.Name).
			WithMetadata("tool_name", c.Name).
			WithMetadata("tool_status", "error").
			WithMetadata("error", err.Error())
		h.append(msg)
		return
	}
	text := res.Text()
	preview := text
	if utf8.RuneCountInString(preview) > resultPreviewChars {
		preview = truncateRunes(preview, resultPreviewChars) + "..."
	}
	msg := session.NewMessage(session.RoleTool, "Tool result: "+c.Name).
		WithMetadata("tool_name", c.Name).
		WithMetadata("tool_status", "completed").
		WithMetadata("result_preview", preview).
		WithMetadata("result_length", len(text))
	h.append(msg)
}

func (h *toolLogHook) append(msg session.Message) {
	if err := h.sessions.AppendMessage(h.sessionID, h.agent, msg); err != nil {
		h.logger.Warn("failed to record tool activity", zap.Error(err))
	}
}
