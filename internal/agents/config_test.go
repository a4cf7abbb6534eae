package agents

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const billingYAML = `
name: billing
description: Answers billing questions
prompt: You handle billing.
tools:
  include: [rag_search]
model: openai/gpt-4o-mini
`

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig("billing.yml", []byte(billingYAML))
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Name)
	assert.Equal(t, TriggerSubAgent, cfg.Trigger.Type)
	assert.True(t, cfg.IsSubAgent())
	assert.Equal(t, []string{"rag_search"}, cfg.Tools.Include)
	assert.Equal(t, "openai:gpt-4o-mini", cfg.Model)
	assert.Equal(t, "billing.yml", cfg.Path)
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"missing name", "description: d\nprompt: p\n", "name"},
		{"missing description", "name: a\nprompt: p\n", "description"},
		{"missing prompt", "name: a\ndescription: d\n", "prompt"},
		{"bad name", "name: two words\ndescription: d\nprompt: p\n", "name"},
		{"unsupported trigger", "name: a\ndescription: d\nprompt: p\ntrigger:\n  type: cron\n", "trigger.type"},
		{"malformed", "name: [unclosed\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig("agent.yml", []byte(tt.doc))
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Equal(t, "agent.yml", cerr.Path)
		})
	}
}

func TestLoadConfigs(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b_billing.yml": billingYAML,
		"a_faq.yaml":    "name: faq\ndescription: FAQ answers\nprompt: You answer FAQs.\n",
		"c_bad.yml":     "name: bad\ndescription: d\nprompt: p\ntrigger:\n  type: webhook\n",
		"d_empty.yml":   "\n",
		"e_dup.yml":     "name: faq\ndescription: again\nprompt: p\n",
		"notes.txt":     "name: ignored\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	configs, err := LoadConfigs(dir, nil)
	require.Error(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "faq", configs[0].Name)
	assert.Equal(t, "billing", configs[1].Name)

	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, err.Error(), "unsupported trigger type")
	assert.Contains(t, err.Error(), "already declared")
}

func TestLoadConfigsMissingDir(t *testing.T) {
	configs, err := LoadConfigs(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, configs)
}
