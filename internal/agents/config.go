// Package agents runs declared agents against per-session tool registries.
//
// Each agent is described by one YAML file. A request flows through the
// Manager: input guardrail, tool preparation, a cached Executor turn and
// the output guardrail. Every declared sub_agent is also exposed to the
// other agents as a tool, so delegation recurses through the same Manager.
package agents

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TriggerSubAgent is the only supported trigger type.
const TriggerSubAgent = "sub_agent"

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config is one agent declaration.
type Config struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Prompt      string      `yaml:"prompt"`
	Trigger     Trigger     `yaml:"trigger"`
	Tools       ToolsConfig `yaml:"tools"`
	// Model is provider qualified ("openai:gpt-4o"). Empty means the
	// orchestrator default.
	Model string `yaml:"model,omitempty"`

	// Path is the file the declaration was read from.
	Path string `yaml:"-"`
}

type Trigger struct {
	Type string `yaml:"type"`
}

type ToolsConfig struct {
	Include []string `yaml:"include"`
}

// IsSubAgent reports whether the agent may be delegated to.
func (c *Config) IsSubAgent() bool {
	return c.Trigger.Type == TriggerSubAgent
}

// ConfigError describes an invalid agent declaration.
type ConfigError struct {
	Path  string
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("agent config %s: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("agent config %s: %s: %s", e.Path, e.Field, e.Msg)
}

// ParseConfig decodes and validates one declaration. Unknown keys are
// ignored. A missing trigger defaults to sub_agent.
func ParseConfig(path string, data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Path: path, Msg: "empty document"}
		}
		return nil, &ConfigError{Path: path, Msg: err.Error()}
	}
	cfg.Path = path

	required := []struct {
		field string
		value string
	}{
		{"name", cfg.Name},
		{"description", cfg.Description},
		{"prompt", cfg.Prompt},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &ConfigError{Path: path, Field: r.field, Msg: "field required"}
		}
	}
	if !agentNamePattern.MatchString(cfg.Name) {
		return nil, &ConfigError{Path: path, Field: "name", Msg: fmt.Sprintf("%q must match %s", cfg.Name, agentNamePattern)}
	}

	switch cfg.Trigger.Type {
	case "":
		cfg.Trigger.Type = TriggerSubAgent
	case TriggerSubAgent:
	default:
		return nil, &ConfigError{Path: path, Field: "trigger.type", Msg: fmt.Sprintf("unsupported trigger type %q", cfg.Trigger.Type)}
	}

	cfg.Model = normalizeModel(cfg.Model)
	return &cfg, nil
}

// LoadConfigs reads every *.yml and *.yaml file in dir, in name order.
//
// A missing directory yields no agents. Empty files are skipped. Invalid
// files are skipped too; their errors are collected and returned alongside
// the valid configs, so callers may log and continue.
func LoadConfigs(dir string, logger *zap.Logger) ([]*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("agents directory does not exist", zap.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agents directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		configs []*Config
		errs    *multierror.Error
		seen    = make(map[string]string)
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to read %s: %w", path, err))
			continue
		}
		if len(bytes.TrimSpace(data)) == 0 {
			logger.Warn("skipping empty agent config", zap.String("path", path))
			continue
		}
		cfg, err := ParseConfig(path, data)
		if err != nil {
			logger.Error("invalid agent config", zap.String("path", path), zap.Error(err))
			errs = multierror.Append(errs, err)
			continue
		}
		if prev, dup := seen[cfg.Name]; dup {
			err := &ConfigError{Path: path, Field: "name", Msg: fmt.Sprintf("agent %q already declared in %s", cfg.Name, prev)}
			logger.Error("duplicate agent config", zap.String("path", path), zap.Error(err))
			errs = multierror.Append(errs, err)
			continue
		}
		seen[cfg.Name] = path
		configs = append(configs, cfg)
		logger.Debug("loaded agent config", zap.String("agent", cfg.Name), zap.String("path", path))
	}

	logger.Info("agent configs loaded", zap.Int("count", len(configs)), zap.String("dir", dir))
	return configs, errs.ErrorOrNil()
}

// normalizeModel accepts "provider/model" as an alias of "provider:model".
func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" || strings.Contains(model, ":") {
		return model
	}
	return strings.Replace(model, "/", ":", 1)
}
