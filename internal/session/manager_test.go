package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	return m
}

func TestManagerRoundTrip(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Create("user-1")
	require.NoError(t, err)
	assert.True(t, m.Exists(id))
	assert.DirExists(t, m.SessionDir(id))
	assert.DirExists(t, filepath.Join(m.Root(), id, "conversations"))

	sent := make([]Message, 5)
	for i := range sent {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		sent[i] = NewMessage(role, fmt.Sprintf("message %d", i))
		require.NoError(t, m.AppendMessage(id, "agent_x", sent[i]))
	}

	got, err := m.LoadConversation(id, "agent_x")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := range sent {
		assert.Equal(t, sent[i].Role, got[i].Role)
		assert.Equal(t, sent[i].Content, got[i].Content)
		assert.True(t, sent[i].Timestamp.Equal(got[i].Timestamp))
	}

	fresh, err := NewManager(m.Root(), nil)
	require.NoError(t, err)
	meta, err := fresh.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, id, meta.SessionID)
	assert.Equal(t, "user-1", meta.User())
}

func TestLoadConversationMissingIsEmpty(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	got, err := m.LoadConversation(id, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLoadConversationCorruptLine(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)
	require.NoError(t, m.AppendMessage(id, "main", NewMessage(RoleUser, "hello")))

	f, err := os.OpenFile(m.conversationPath(id, "main"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = m.LoadConversation(id, "main")
	var corrupt *CorruptLogError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, 2, corrupt.Line)
}

func TestAppendMessageIsAdditive(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	require.NoError(t, m.AppendMessage(id, "main", NewMessage(RoleUser, "one")))
	before, err := os.ReadFile(m.conversationPath(id, "main"))
	require.NoError(t, err)

	require.NoError(t, m.AppendMessage(id, "main", NewMessage(RoleAssistant, "two")))
	after, err := os.ReadFile(m.conversationPath(id, "main"))
	require.NoError(t, err)

	assert.Equal(t, string(before), string(after[:len(before)]))
}

func TestAppendMessageTouchesUpdatedAt(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)
	meta, err := m.GetMetadata(id)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.AppendMessage(id, "main", NewMessage(RoleUser, "hi")))

	updated, err := m.GetMetadata(id)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(meta.UpdatedAt))
	assert.True(t, updated.CreatedAt.Equal(meta.CreatedAt))
}

func TestAppendMessageUnknownSession(t *testing.T) {
	m := newTestManager(t)
	err := m.AppendMessage("does-not-exist", "main", NewMessage(RoleUser, "hi"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id, err := m.Create("")
	require.NoError(t, err)
	assert.Error(t, m.AppendMessage(id, "../escape", NewMessage(RoleUser, "hi")))
}

func TestUpdateTokens(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	ctx1 := 40
	require.NoError(t, m.UpdateTokens(id, 100, 50, &ctx1))
	require.NoError(t, m.UpdateTokens(id, 10, 5, nil))

	meta, err := m.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, 110, meta.InputTokens)
	assert.Equal(t, 55, meta.OutputTokens)
	assert.Equal(t, 165, meta.TotalTokens)
	assert.Equal(t, 40, meta.ContextTokens)

	ctx2 := 7
	require.NoError(t, m.UpdateTokens(id, 0, 0, &ctx2))
	meta, err = m.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, 7, meta.ContextTokens)
	assert.Equal(t, 165, meta.TotalTokens)
}

func TestUpdateTokensConcurrent(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.UpdateTokens(id, 1, 2, nil))
		}()
	}
	wg.Wait()

	meta, err := m.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, 20, meta.InputTokens)
	assert.Equal(t, 40, meta.OutputTokens)
}

func TestConcurrentAppendsKeepWholeLines(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.AppendMessage(id, "main", NewMessage(RoleUser, fmt.Sprintf("msg %d", i))))
		}(i)
	}
	wg.Wait()

	got, err := m.LoadConversation(id, "main")
	require.NoError(t, err)
	assert.Len(t, got, 30)
}

func TestFindByUserAndList(t *testing.T) {
	m := newTestManager(t)

	older, err := m.Create("alice")
	require.NoError(t, err)
	_, err = m.Create("bob")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := m.Create("alice")
	require.NoError(t, err)

	got, ok, err := m.FindByUser("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer, got)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.AppendMessage(older, "main", NewMessage(RoleUser, "bump")))
	got, _, err = m.FindByUser("alice")
	require.NoError(t, err)
	assert.Equal(t, older, got)

	_, ok, err = m.FindByUser("carol")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, older, all[0].SessionID)
}

func TestGetOrCreateForUser(t *testing.T) {
	m := newTestManager(t)

	id, created, err := m.GetOrCreateForUser("dana")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.GetOrCreateForUser("dana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
}

func TestFindByUserIgnoresAnonymous(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create("")
	require.NoError(t, err)
	_, err = m.Create("erin")
	require.NoError(t, err)

	tests := []struct {
		name   string
		userID string
		wantOK bool
	}{
		{"empty user matches nothing", "", false},
		{"named user", "erin", true},
		{"unknown user", "frank", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok, err := m.FindByUser(tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Empty(t, id)
			}
		})
	}

	first, created, err := m.GetOrCreateForUser("")
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := m.GetOrCreateForUser("")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, second)
}

func TestGetMetadataUnknown(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetMetadata("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, m.Exists("../.."))
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	base := NewMessage(RoleTool, "ok")
	tagged := base.WithMetadata("tool_status", "completed")
	tagged.ToolCalls = []ToolCallRecord{{Name: "read", Args: map[string]any{"path": "a.txt"}, Result: "ok"}}
	assert.Nil(t, base.Metadata)
	require.NoError(t, m.AppendMessage(id, "main", tagged))

	got, err := m.LoadConversation(id, "main")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "completed", got[0].Metadata["tool_status"])
	assert.Equal(t, "read", got[0].ToolCalls[0].Name)
	assert.Equal(t, "a.txt", got[0].ToolCalls[0].Args["path"])
}

func TestToolCallEmptyResultPersisted(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Create("")
	require.NoError(t, err)

	msg := NewMessage(RoleAssistant, "")
	msg.ToolCalls = []ToolCallRecord{{Name: "write", Args: map[string]any{"path": "a.txt"}}}
	require.NoError(t, m.AppendMessage(id, "main", msg))

	raw, err := os.ReadFile(m.conversationPath(id, "main"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"result":""`)

	got, err := m.LoadConversation(id, "main")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].ToolCalls, 1)
	assert.Equal(t, "", got[0].ToolCalls[0].Result)
}
