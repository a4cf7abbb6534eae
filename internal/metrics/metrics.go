// Package metrics exposes prometheus collectors for agent turns, tool calls
// and guardrail decisions.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

const namespace = "skywalker"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	ToolCalls      *prometheus.CounterVec
	GuardrailVotes *prometheus.CounterVec
	Tokens         *prometheus.CounterVec
	IngestJobs     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns by agent and outcome.",
		}, []string{"agent", "outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turn_duration_seconds",
			Help:      "Wall time of one agent turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"agent"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		GuardrailVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_decisions_total",
			Help:      "Guardrail gate decisions.",
		}, []string{"decision"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Provider-reported tokens by direction.",
		}, []string{"direction"}),
		IngestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_jobs_total",
			Help:      "Finished knowledge ingestion jobs by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.Turns, m.TurnDuration, m.ToolCalls, m.GuardrailVotes, m.Tokens, m.IngestJobs)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished agent turn.
func (m *Metrics) ObserveTurn(agent string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.Turns.WithLabelValues(agent, outcome).Inc()
	m.TurnDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// ObserveGuardrail records an approve, reject or fail_open decision.
func (m *Metrics) ObserveGuardrail(decision string) {
	if m == nil {
		return
	}
	m.GuardrailVotes.WithLabelValues(decision).Inc()
}

// ObserveJob records a terminal ingestion job status.
func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.IngestJobs.WithLabelValues(status).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Hook feeds engine loop events into m.
type Hook struct {
	engine.NopHook
	m *Metrics
}

// Hook returns an engine hook bound to m. A nil m yields a no-op hook.
func (m *Metrics) Hook() engine.Hook {
	if m == nil {
		return engine.NopHook{}
	}
	return Hook{m: m}
}

func (h Hook) OnAfterLLM(_ context.Context, _ *engine.State, r engine.LLMResponse) {
	h.m.Tokens.WithLabelValues("input").Add(float64(r.Usage.Prompt))
	h.m.Tokens.WithLabelValues("output").Add(float64(r.Usage.Completion))
}

func (h Hook) OnToolResult(_ context.Context, _ *engine.State, c engine.ToolCall, _ engine.ToolResult, err error) {
	status := "completed"
	switch {
	case errors.Is(err, engine.ErrAborted):
		status = "aborted"
	case err != nil:
		status = "error"
	}
	h.m.ToolCalls.WithLabelValues(c.Name, status).Inc()
}
