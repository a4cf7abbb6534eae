package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveTurn("main", true, time.Second)
	m.ObserveTurn("main", false, time.Second)
	m.ObserveTurn("main", true, time.Second)
	m.ObserveGuardrail("reject")
	m.ObserveJob("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("main", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("main", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailVotes.WithLabelValues("reject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestJobs.WithLabelValues("completed")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("main", true, time.Second)
	m.ObserveGuardrail("approve")
	m.ObserveJob("failed")
	assert.IsType(t, engine.NopHook{}, m.Hook())
}

func TestHook(t *testing.T) {
	m := New()
	h := m.Hook()
	ctx := context.Background()

	h.OnAfterLLM(ctx, &engine.State{}, engine.LLMResponse{Usage: engine.Usage{Prompt: 10, Completion: 4}})
	h.OnToolResult(ctx, nil, engine.ToolCall{Name: "read"}, engine.ToolResult{}, nil)
	h.OnToolResult(ctx, nil, engine.ToolCall{Name: "read"}, engine.ToolResult{}, errors.New("boom"))
	h.OnToolResult(ctx, nil, engine.ToolCall{Name: "grep"}, engine.ToolResult{}, engine.ErrAborted)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.Tokens.WithLabelValues("input")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Tokens.WithLabelValues("output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("read", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("read", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("grep", "aborted")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveGuardrail("approve")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `skywalker_guardrail_decisions_total{decision="approve"} 1`))
}
