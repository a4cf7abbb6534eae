package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		debug   bool
		wantErr bool
	}{
		{name: "defaults", opts: Options{}},
		{name: "json debug", opts: Options{Level: "DEBUG", Format: "json"}, debug: true},
		{name: "verbose wins", opts: Options{Level: "error", Verbose: true}, debug: true},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := New(Options{Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("turn finished", zap.String("session_id", "s1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"msg":"turn finished"`)
	assert.Contains(t, line, `"session_id":"s1"`)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
