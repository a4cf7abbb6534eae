package agents

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/metrics"
	"github.com/ChamsBouzaiene/skywalker/internal/session"
	"github.com/ChamsBouzaiene/skywalker/internal/tools"
)

const (
	// MainAgent is the entry agent name. It needs no declaration.
	MainAgent = "main"

	DefaultPrompt   = "You are a helpful assistant."
	DefaultMaxDepth = 5

	rejectedFallback = "I cannot process this request."
)

// Request states, logged as "state".
const (
	StateReceived      = "received"
	StateInputCheck    = "input_check"
	StateRejected      = "rejected"
	StateToolsPrepared = "tools_prepared"
	StateExecuted      = "executed"
	StateOutputCheck   = "output_check"
	StateRevised       = "revised"
	StateFinal         = "final"
)

// LLMResolver maps a provider qualified model to a client and the bare
// model name. providers.Factory implements it.
type LLMResolver interface {
	Client(qualified string) (engine.LLMClient, string, error)
}

// Request is one message addressed to an agent. SystemPrompt and Model
// override the agent's declaration when set.
type Request struct {
	Agent        string
	SessionID    string
	UserID       string
	Message      string
	SystemPrompt string
	Model        string
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Agents       []*Config
	Sessions     *session.Manager
	LLMs         LLMResolver
	DefaultModel string
	Guardrail    *Guardrail

	// ExtraTools are registered in every session registry next to the
	// native tools. Declared agents reach them through tools.include.
	ExtraTools  []engine.Tool
	ToolOptions tools.SessionOptions

	CacheCapacity int
	MaxDepth      int
	MaxSteps      int
	Hooks         engine.Hooks

	// Closers are closed by Manager.Close.
	Closers []io.Closer

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Manager routes requests through the guardrails to cached executors.
type Manager struct {
	cfg    ManagerConfig
	agents map[string]*Config
	order  []string
	cache  *ExecutorCache
	logger *zap.Logger
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("agents: session manager is required")
	}
	if cfg.LLMs == nil {
		return nil, fmt.Errorf("agents: LLM resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Guardrail == nil {
		cfg.Guardrail = NewGuardrail(GuardrailConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.ToolOptions.Logger == nil {
		cfg.ToolOptions.Logger = cfg.Logger
	}

	m := &Manager{
		cfg:    cfg,
		agents: make(map[string]*Config, len(cfg.Agents)),
		cache:  NewExecutorCache(cfg.CacheCapacity),
		logger: cfg.Logger.Named("agents"),
	}
	for _, a := range cfg.Agents {
		if _, dup := m.agents[a.Name]; dup {
			return nil, fmt.Errorf("agents: duplicate agent %q", a.Name)
		}
		m.agents[a.Name] = a
		m.order = append(m.order, a.Name)
	}
	sort.Strings(m.order)
	return m, nil
}

// Agents returns the declared agents ordered by name.
func (m *Manager) Agents() []*Config {
	out := make([]*Config, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.agents[name])
	}
	return out
}

// Agent looks up a declared agent.
func (m *Manager) Agent(name string) (*Config, bool) {
	a, ok := m.agents[name]
	return a, ok
}

// RunMainAgent sends message to the main agent.
func (m *Manager) RunMainAgent(ctx context.Context, sessionID, userID, message string) Response {
	return m.GetResponse(ctx, Request{Agent: MainAgent, SessionID: sessionID, UserID: userID, Message: message})
}

// GetResponse runs one request through the state machine. It never
// returns a Go error; failures are reported in the Response.
func (m *Manager) GetResponse(ctx context.Context, req Request) Response {
	start := time.Now()
	logger := m.logger.With(
		zap.String("session_id", req.SessionID),
		zap.String("agent", req.Agent),
		zap.Int("depth", delegationDepth(ctx)),
	)
	logger.Debug("request", zap.String("state", StateReceived))

	if !m.cfg.Sessions.Exists(req.SessionID) {
		return failed(req.SessionID, fmt.Errorf("%w: %q", session.ErrSessionNotFound, req.SessionID))
	}

	logger.Debug("request", zap.String("state", StateInputCheck))
	in := m.cfg.Guardrail.ValidateInput(ctx, req.Message, req.UserID, req.SessionID)
	if !in.Approved {
		text := in.Response
		if text == "" {
			text = rejectedFallback
		}
		logger.Info("input rejected", zap.String("state", StateRejected), zap.String("reason", in.Reason))
		return Response{Success: true, SessionID: req.SessionID, Response: text, ToolCalls: []string{}}
	}

	exec, hit, err := m.cache.GetOrCreate(CacheKey(req.SessionID, req.Agent), func() (*Executor, error) {
		return m.newExecutor(req, logger)
	})
	if err != nil {
		logger.Error("failed to prepare executor", zap.Error(err))
		return failed(req.SessionID, err)
	}
	logger.Debug("request", zap.String("state", StateToolsPrepared), zap.Bool("cached", hit))

	resp := exec.Run(ctx, req.SessionID, req.UserID, req.Message)
	logger.Debug("request", zap.String("state", StateExecuted), zap.Bool("success", resp.Success))
	if !resp.Success {
		return resp
	}

	logger.Debug("request", zap.String("state", StateOutputCheck))
	out := m.cfg.Guardrail.ValidateOutput(ctx, resp.Response, req.Message, req.UserID)
	if !out.Approved && out.Response != "" {
		logger.Info("output revised", zap.String("state", StateRevised), zap.String("reason", out.Reason))
		resp.Response = out.Response
	}

	logger.Info("request finished", zap.String("state", StateFinal), zap.Duration("duration", time.Since(start)))
	return resp
}

// Delegate runs a declared agent on behalf of another agent. Unknown agents
// and runaway recursion yield a failed Response.
func (m *Manager) Delegate(ctx context.Context, agent, sessionID, userID, query string) Response {
	depth := delegationDepth(ctx) + 1
	if depth > m.cfg.MaxDepth {
		msg := fmt.Sprintf("Delegation depth limit (%d) exceeded", m.cfg.MaxDepth)
		m.logger.Warn("delegation refused", zap.String("agent", agent), zap.Int("depth", depth))
		return Response{SessionID: sessionID, Response: msg, ToolCalls: []string{}, Error: msg}
	}
	cfg, ok := m.agents[agent]
	if !ok {
		msg := fmt.Sprintf("Sub-agent '%s' not found", agent)
		return Response{SessionID: sessionID, Response: msg, ToolCalls: []string{}, Error: msg}
	}

	m.logger.Info("delegating",
		zap.String("session_id", sessionID),
		zap.String("agent", agent),
		zap.Int("depth", depth),
	)
	return m.GetResponse(withDelegationDepth(ctx, depth), Request{
		Agent:        cfg.Name,
		SessionID:    sessionID,
		UserID:       userID,
		Message:      query,
		SystemPrompt: cfg.Prompt,
		Model:        cfg.Model,
	})
}

// ClearCache drops the cached executors of sessionID, or all of them when
// sessionID is empty.
func (m *Manager) ClearCache(sessionID string) int {
	prefix := ""
	if sessionID != "" {
		prefix = sessionID + ":"
	}
	n := m.cache.Clear(prefix)
	m.logger.Debug("executor cache cleared", zap.String("session_id", sessionID), zap.Int("removed", n))
	return n
}

// Close drops every cached executor and closes the configured closers.
func (m *Manager) Close() error {
	m.cache.Clear("")
	var errs *multierror.Error
	for _, c := range m.cfg.Closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m *Manager) newExecutor(req Request, logger *zap.Logger) (*Executor, error) {
	agentCfg := m.agents[req.Agent]

	prompt, model := req.SystemPrompt, req.Model
	if prompt == "" && agentCfg != nil {
		prompt = agentCfg.Prompt
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if model == "" && agentCfg != nil {
		model = agentCfg.Model
	}
	if model == "" {
		model = m.cfg.DefaultModel
	}

	llm, modelName, err := m.cfg.LLMs.Client(model)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %q: %w", model, err)
	}

	reg, err := m.prepareTools(req, agentCfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("executor created", zap.String("model", model), zap.Strings("tools", reg.Names()))
	return NewExecutor(ExecutorConfig{
		Agent:    req.Agent,
		Prompt:   prompt,
		Model:    modelName,
		LLM:      llm,
		Tools:    reg,
		Sessions: m.cfg.Sessions,
		Hooks:    m.cfg.Hooks,
		MaxSteps: m.cfg.MaxSteps,
		Logger:   m.cfg.Logger,
		Metrics:  m.cfg.Metrics,
	}), nil
}

// prepareTools binds the native tools to the session workspace and adds
// the agent's allowlisted extras plus one tool per other sub-agent. An
// undeclared agent such as main gets every extra tool.
func (m *Manager) prepareTools(req Request, agentCfg *Config, logger *zap.Logger) (engine.ToolRegistry, error) {
	registry, err := tools.NewForSession(m.cfg.Sessions.SessionDir(req.SessionID), m.cfg.ToolOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare session tools: %w", err)
	}
	for _, t := range m.cfg.ExtraTools {
		registry.Register(t.Name, t)
	}

	var allow []string
	if agentCfg != nil {
		allow = append(allow, tools.NativeToolNames...)
		for _, name := range agentCfg.Tools.Include {
			if _, ok := registry.Get(name); !ok {
				if _, isAgent := m.agents[name]; !isAgent {
					logger.Warn("agent includes unknown tool", zap.String("tool", name))
				}
				continue
			}
			allow = append(allow, name)
		}
	}
	reg := tools.ToolRegistry(registry.Filter(allow, nil))

	for _, name := range m.order {
		target := m.agents[name]
		if name == req.Agent || !target.IsSubAgent() {
			continue
		}
		if _, clash := reg[name]; clash {
			logger.Warn("sub-agent name shadows a tool, skipping", zap.String("tool", name))
			continue
		}
		reg[name] = newSubAgentTool(m, target, req.SessionID, req.UserID)
	}

	logger.Debug("toolset prepared", zap.Any("groups", toolGroups(reg)))
	return reg, nil
}

// toolGroups buckets tool names into native, agents and per-category
// groups for logging.
func toolGroups(reg engine.ToolRegistry) map[string][]string {
	native := make(map[string]bool, len(tools.NativeToolNames))
	for _, n := range tools.NativeToolNames {
		native[n] = true
	}
	groups := make(map[string][]string)
	for _, name := range reg.Names() {
		group := reg[name].GetCategory()
		if native[name] {
			group = "native"
		}
		groups[group] = append(groups[group], name)
	}
	return groups
}

func failed(sessionID string, err error) Response {
	return Response{
		SessionID: sessionID,
		Response:  fmt.Sprintf("Agent execution error: %v", err),
		ToolCalls: []string{},
		Error:     err.Error(),
	}
}

type depthKey struct{}

func delegationDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func withDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}
