package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/skywalker/internal/agents"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"chat"}, {"ask"},
		{"sessions", "list"}, {"sessions", "show"},
		{"agents", "list"},
		{"kb", "ingest"}, {"kb", "search"}, {"kb", "jobs"}, {"kb", "watch"},
		{"db", "init"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestPrintResponse(t *testing.T) {
	tests := []struct {
		name string
		resp agents.Response
		want string
	}{
		{
			name: "plain reply",
			resp: agents.Response{Success: true, Response: "hello", ToolCalls: []string{}},
			want: "hello\n\n",
		},
		{
			name: "reply with tools",
			resp: agents.Response{Success: true, Response: "done", ToolCalls: []string{"read", "grep"}},
			want: "done\n[tools: read, grep]\n\n",
		},
		{
			name: "failure",
			resp: agents.Response{Success: false, Error: "boom"},
			want: "error: boom\n\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printResponse(&buf, tt.resp)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
