// Package config loads the skywalker JSON configuration.
//
// String values may reference the environment as ${VAR} or ${VAR:-default}.
// A .env file in the working directory is loaded before substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "SKYWALKER_CONFIG"

const (
	DefaultModel          = "openai:gpt-5-mini-2025-08-07"
	DefaultGuardrailModel = "openai:gpt-4o-mini"
	DefaultMaxDepth       = 5
	DefaultChunkSize      = 2048
	DefaultChunkOverlap   = 400
)

// Config holds every setting the CLI and the orchestrator read.
type Config struct {
	DefaultModel  string                    `json:"default_model"`
	Providers     map[string]ProviderConfig `json:"providers,omitempty"`
	Sessions      SessionsConfig            `json:"sessions"`
	Agents        AgentsConfig              `json:"agents"`
	Guardrails    GuardrailsConfig          `json:"guardrails"`
	ExecutorCache ExecutorCacheConfig       `json:"executor_cache"`
	Delegation    DelegationConfig          `json:"delegation"`
	Sandbox       SandboxConfig             `json:"sandbox"`
	Search        SearchConfig              `json:"search"`
	Knowledge     KnowledgeConfig           `json:"knowledge"`
	SupportDB     SupportDBConfig           `json:"support_db"`
	Log           LogConfig                 `json:"log"`
	Metrics       MetricsConfig             `json:"metrics"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

type SessionsConfig struct {
	Root string `json:"root"`
}

type AgentsConfig struct {
	Dir string `json:"dir"`
}

type GuardrailsConfig struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model"`
}

type ExecutorCacheConfig struct {
	// Capacity bounds cached executors; 0 means unbounded.
	Capacity int `json:"capacity"`
}

type DelegationConfig struct {
	MaxDepth int `json:"max_depth"`
}

type SandboxConfig struct {
	Mode        string   `json:"mode"`
	DockerImage string   `json:"docker_image,omitempty"`
	CPU         string   `json:"cpu,omitempty"`
	Memory      string   `json:"memory,omitempty"`
	CmdTimeout  Duration `json:"cmd_timeout"`
}

type SearchConfig struct {
	FindBackend string `json:"find_backend"`
}

type KnowledgeConfig struct {
	IndexPath    string `json:"index_path"`
	DBPath       string `json:"db_path"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	WatchDir     string `json:"watch_dir,omitempty"`
}

type SupportDBConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9090".
	Addr string `json:"addr,omitempty"`
}

// Duration accepts "90s"-style strings or a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		if val == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Default returns the configuration used when no file exists. Paths are
// rooted at home, which may be empty if the home directory is unknown.
func Default(home string) *Config {
	base := filepath.Join(home, ".skywalker")
	return &Config{
		DefaultModel: DefaultModel,
		Providers:    map[string]ProviderConfig{},
		Sessions:     SessionsConfig{Root: filepath.Join(base, "sessions")},
		Agents:       AgentsConfig{Dir: filepath.Join(".skywalker", "agents")},
		Guardrails:   GuardrailsConfig{Enabled: true, Model: DefaultGuardrailModel},
		Delegation:   DelegationConfig{MaxDepth: DefaultMaxDepth},
		Sandbox:      SandboxConfig{Mode: "host", CmdTimeout: Duration{60 * time.Second}},
		Search:       SearchConfig{FindBackend: "native"},
		Knowledge: KnowledgeConfig{
			IndexPath:    filepath.Join(base, "knowledge.bleve"),
			DBPath:       filepath.Join(base, "knowledge.db"),
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		SupportDB: SupportDBConfig{Path: filepath.Join(base, "support.db")},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

// Manager locates, loads and saves the config file.
type Manager struct {
	path string
	home string
}

// NewManager resolves the config path: explicit path, then
// $SKYWALKER_CONFIG, then ~/.skywalker/config.json.
func NewManager(path string) (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home dir: %w", err)
	}
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = filepath.Join(home, ".skywalker", "config.json")
	}
	return &Manager{path: path, home: home}, nil
}

// Path returns the config file location.
func (m *Manager) Path() string { return m.path }

// Exists reports whether the config file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Load reads .env, then the config file, substitutes environment references
// and fills unset fields with defaults. A missing file yields the defaults.
func (m *Manager) Load() (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := Default(m.home)
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	return cfg, nil
}

// Save writes cfg with owner-only permissions since it may hold API keys.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Parse decodes data over cfg after expanding environment references in
// every string value.
func Parse(data []byte, cfg *Config) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config json: %w", err)
	}
	expanded, err := expandTree(raw)
	if err != nil {
		return err
	}
	normalized, err := json.Marshal(expanded)
	if err != nil {
		return fmt.Errorf("failed to re-encode config: %w", err)
	}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in s.
func ExpandEnv(s string) (string, error) {
	var missing string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		v, ok := os.LookupEnv(m[1])
		if ok && (v != "" || m[2] == "") {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		if missing == "" {
			missing = m[1]
		}
		return ref
	})
	if missing != "" {
		return "", fmt.Errorf("Environment variable %s not set", missing)
	}
	return out, nil
}

func expandTree(v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "${") {
			return val, nil
		}
		return ExpandEnv(val)
	case map[string]any:
		for k, child := range val {
			out, err := expandTree(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = out
		}
		return val, nil
	case []any:
		for i, child := range val {
			out, err := expandTree(child)
			if err != nil {
				return nil, err
			}
			val[i] = out
		}
		return val, nil
	default:
		return v, nil
	}
}

// ProviderCredentials returns the configured credentials for provider.
func (c *Config) ProviderCredentials(provider string) ProviderConfig {
	return c.Providers[strings.ToLower(provider)]
}
