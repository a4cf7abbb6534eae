// Package tools assembles per-session tool registries.
package tools

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/pathutil"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/search"
)

// Find backends.
const (
	FindBackendNative = "native"
	FindBackendFd     = "fd"
)

// NativeToolNames lists the tools every session registry starts with.
var NativeToolNames = []string{"find", "grep", "read", "write", "edit"}

// SessionOptions configures the native tools bound by NewForSession.
type SessionOptions struct {
	// Runner executes rg and fd. Defaults to a host runner.
	Runner      sandbox.Runner
	FindBackend string
	CmdTimeout  time.Duration
	Logger      *zap.Logger
}

// Registry maps tool names to tools. Registering a name twice replaces the
// earlier tool.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]engine.Tool
	resolver *pathutil.Resolver
}

// New returns an empty registry not bound to any workspace.
func New() *Registry {
	return &Registry{tools: make(map[string]engine.Tool)}
}

// NewForSession creates workspace if needed and registers the native file
// tools bound to it.
func NewForSession(workspace string, opts SessionOptions) (*Registry, error) {
	resolver, err := pathutil.NewResolver(workspace)
	if err != nil {
		return nil, fmt.Errorf("bind workspace %s: %w", workspace, err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Runner == nil {
		opts.Runner = sandbox.NewHostRunner(sandbox.DefaultConfig())
	}

	var findOps search.FindOperations
	switch opts.FindBackend {
	case "", FindBackendNative:
		findOps = search.NewNativeFind()
	case FindBackendFd:
		findOps = search.NewFdFind(opts.Runner, resolver.Root(), opts.CmdTimeout)
	default:
		return nil, fmt.Errorf("unknown find backend %q", opts.FindBackend)
	}

	fs := filesystem.NewLocalFS()
	r := &Registry{tools: make(map[string]engine.Tool), resolver: resolver}
	r.Register("find", search.NewFindTool(resolver, findOps))
	r.Register("grep", search.NewGrepTool(resolver, search.NewRgGrep(opts.Runner, resolver.Root(), opts.CmdTimeout)))
	r.Register("read", filesystem.NewReadTool(resolver, fs))
	r.Register("write", filesystem.NewWriteTool(resolver, fs))
	r.Register("edit", filesystem.NewEditTool(resolver, fs))

	opts.Logger.Debug("session registry ready",
		zap.String("workspace", resolver.Root()),
		zap.String("find_backend", opts.FindBackend),
	)
	return r, nil
}

// Workspace returns the bound workspace root, or "" for an unbound registry.
func (r *Registry) Workspace() string {
	if r.resolver == nil {
		return ""
	}
	return r.resolver.Root()
}

// Register adds tool under name, replacing any existing entry.
func (r *Registry) Register(name string, tool engine.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool.Name = name
	r.tools[name] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (engine.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every tool ordered by name.
func (r *Registry) All() []engine.Tool {
	return r.Filter(nil, nil)
}

// Filter returns the tools named in allow (all tools when allow is empty),
// minus those named in deny, ordered by name.
func (r *Registry) Filter(allow, deny []string) []engine.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := toSet(allow)
	denied := toSet(deny)

	out := make([]engine.Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if len(allowed) > 0 && !allowed[name] {
			continue
		}
		if denied[name] {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolRegistry converts the filtered tool set into the form the agent loop
// consumes.
func ToolRegistry(tools []engine.Tool) engine.ToolRegistry {
	reg := make(engine.ToolRegistry, len(tools))
	for _, t := range tools {
		reg[t.Name] = t
	}
	return reg
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}
