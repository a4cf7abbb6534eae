// Package knowledge exposes the knowledge base to agents as the rag_search
// tool.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	kb "github.com/ChamsBouzaiene/skywalker/internal/knowledge"
)

const (
	DefaultTopK   = 5
	SearchTimeout = 30 * time.Second
)

const ragSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Natural language query to search in the knowledge base"},
    "top_k": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of most relevant results to return (default: 5)"},
    "namespace": {"type": "string", "description": "Knowledge base namespace to search in (default: 'default')"}
  },
  "required": ["query"],
  "additionalProperties": false
}`

var separator = strings.Repeat("-", 80)

// RagSearchParams are the arguments of the rag_search tool.
type RagSearchParams struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// RagSearchDetails is attached to successful searches.
type RagSearchDetails struct {
	Query           string  `json:"query"`
	ResultsCount    int     `json:"results_count"`
	Namespace       string  `json:"namespace"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// RagSearchError is attached when the search failed or timed out.
type RagSearchError struct {
	Error           string  `json:"error"`
	DurationSeconds float64 `json:"duration_seconds"`
	TimeoutSeconds  float64 `json:"timeout_seconds,omitempty"`
}

// NewRagSearchTool creates rag_search over retriever. Search failures are
// reported to the model as text rather than as tool errors.
func NewRagSearchTool(retriever kb.Retriever, timeout time.Duration, logger *zap.Logger) engine.Tool {
	if timeout <= 0 {
		timeout = SearchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rag_search")

	return engine.Tool{
		Name:  "rag_search",
		Label: "rag_search",
		Description: "Search the knowledge base for product documentation, policies, and support articles. " +
			"Use this tool when you need information about products, services, policies, or procedures " +
			"that has been previously ingested into the system. Returns relevant document chunks with relevance scores.",
		SchemaJSON: ragSearchSchema,
		Retryable:  true,
		Metadata:   engine.ToolMetadata{Category: "knowledge", Tags: []string{"read-only"}},
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[RagSearchParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			if params.TopK <= 0 {
				params.TopK = DefaultTopK
			}
			if params.Namespace == "" {
				params.Namespace = kb.DefaultNamespace
			}
			return search(ctx, retriever, params, timeout, logger)
		},
	}
}

func search(ctx context.Context, retriever kb.Retriever, p RagSearchParams, timeout time.Duration, logger *zap.Logger) (engine.ToolResult, error) {
	start := time.Now()
	logger.Info("rag_search started",
		zap.String("query", preview(p.Query)),
		zap.Int("top_k", p.TopK),
		zap.String("namespace", p.Namespace),
	)

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	results, err := retriever.Search(sctx, p.Query, p.TopK, p.Namespace)
	elapsed := seconds(time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return engine.ToolResult{}, engine.CheckAbort(ctx)
		}
		if errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil {
			logger.Warn("rag_search timed out", zap.String("query", preview(p.Query)), zap.Duration("timeout", timeout))
			text := fmt.Sprintf("RAG search timed out after %d seconds. Please try again with a more specific query.", int(timeout.Seconds()))
			return engine.TextResult(text, RagSearchError{Error: "timeout", DurationSeconds: elapsed, TimeoutSeconds: timeout.Seconds()}), nil
		}
		logger.Error("rag_search failed", zap.String("query", preview(p.Query)), zap.Error(err))
		return engine.TextResult("Knowledge base search failed: "+err.Error(), RagSearchError{Error: err.Error(), DurationSeconds: elapsed}), nil
	}
	if err := engine.CheckAbort(ctx); err != nil {
		return engine.ToolResult{}, err
	}

	logger.Info("rag_search completed", zap.Int("results", len(results)), zap.Float64("duration_seconds", elapsed))
	return engine.TextResult(FormatResults(p.Query, results), RagSearchDetails{
		Query:           p.Query,
		ResultsCount:    len(results),
		Namespace:       p.Namespace,
		DurationSeconds: elapsed,
	}), nil
}

// FormatResults renders search hits the way the model sees them.
func FormatResults(query string, results []kb.Result) string {
	if len(results) == 0 {
		return "No results found in knowledge base for: " + query
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge base results for '%s':\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "**Result %d** (Relevance: %.2f)\n", i+1, r.Score)
		if src := r.Source(); src != "" {
			fmt.Fprintf(&b, "Source: %s\n", src)
		}
		fmt.Fprintf(&b, "\n%s\n", r.Text)
		b.WriteString("\n" + separator + "\n\n")
	}
	return b.String()
}

func preview(q string) string {
	if len(q) > 80 {
		return q[:80] + "..."
	}
	return q
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
