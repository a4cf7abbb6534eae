// Package providers implements engine.LLMClient for the supported model APIs
// and resolves provider-qualified model names such as "openai:gpt-4o-mini".
package providers

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

// Credentials configures one provider.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// compatible lists OpenAI-compatible providers reachable through OpenAIClient.
var compatible = map[string]struct {
	baseURL string
	keyEnv  string
	// local servers accept any key.
	defaultKey string
}{
	"openai":   {keyEnv: "OPENAI_API_KEY"},
	"gemini":   {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", keyEnv: "GEMINI_API_KEY"},
	"deepseek": {baseURL: "https://api.deepseek.com/v1", keyEnv: "DEEPSEEK_API_KEY"},
	"groq":     {baseURL: "https://api.groq.com/openai/v1", keyEnv: "GROQ_API_KEY"},
	"ollama":   {baseURL: "http://localhost:11434/v1", keyEnv: "OLLAMA_API_KEY", defaultKey: "ollama"},
	"lmstudio": {baseURL: "http://localhost:1234/v1", keyEnv: "LMSTUDIO_API_KEY", defaultKey: "lm-studio"},
}

// ParseModel splits "provider:model". A bare model name is treated as openai.
func ParseModel(qualified string) (provider, model string, err error) {
	qualified = strings.TrimSpace(qualified)
	if qualified == "" {
		return "", "", fmt.Errorf("model name is empty")
	}
	provider, model, found := strings.Cut(qualified, ":")
	if !found {
		return "openai", qualified, nil
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return "", "", fmt.Errorf("invalid model %q: want provider:model", qualified)
	}
	return provider, model, nil
}

// Factory builds and caches one client per provider.
type Factory struct {
	creds map[string]Credentials

	mu      sync.Mutex
	clients map[string]engine.LLMClient
}

// NewFactory returns a factory over the given per-provider credentials.
// Providers without an API key fall back to their usual environment variable.
func NewFactory(creds map[string]Credentials) *Factory {
	c := make(map[string]Credentials, len(creds))
	for k, v := range creds {
		c[strings.ToLower(k)] = v
	}
	return &Factory{creds: c, clients: make(map[string]engine.LLMClient)}
}

// Client resolves a provider-qualified model to a client and the bare model
// name to send with each request.
func (f *Factory) Client(qualified string) (engine.LLMClient, string, error) {
	provider, model, err := ParseModel(qualified)
	if err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[provider]; ok {
		return c, model, nil
	}
	c, err := f.build(provider)
	if err != nil {
		return nil, "", err
	}
	f.clients[provider] = c
	return c, model, nil
}

// Register installs a client for provider, replacing any cached one.
func (f *Factory) Register(provider string, client engine.LLMClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[strings.ToLower(provider)] = client
}

func (f *Factory) build(provider string) (engine.LLMClient, error) {
	cred := f.creds[provider]

	if provider == "anthropic" {
		if cred.APIKey == "" {
			cred.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		client, err := NewAnthropicClient(cred.APIKey, cred.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, nil
	}

	spec, ok := compatible[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", provider, strings.Join(Supported(), ", "))
	}
	if cred.APIKey == "" {
		cred.APIKey = os.Getenv(spec.keyEnv)
	}
	if cred.APIKey == "" {
		cred.APIKey = spec.defaultKey
	}
	if cred.BaseURL == "" {
		cred.BaseURL = spec.baseURL
	}
	client, err := NewOpenAIClient(cred.APIKey, cred.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, nil
}

// Supported returns the provider prefixes ParseModel results may use.
func Supported() []string {
	out := []string{"anthropic"}
	for name := range compatible {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
