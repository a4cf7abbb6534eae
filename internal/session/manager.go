// Package session persists session workspaces, per-agent conversation logs
// and token accounting on the local disk.
//
// Layout under the sessions root:
//
//	{id}/sessionDir/                 shared tool workspace
//	{id}/conversations/{agent}.jsonl one JSON message per line
//	{id}/session.json                Metadata
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	workspaceDirName     = "sessionDir"
	conversationsDirName = "conversations"
	metadataFileName     = "session.json"

	maxLogLineBytes = 16 << 20
)

// ErrSessionNotFound is returned for operations on an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// CorruptLogError reports a conversation log line that is not valid JSON.
// The whole load fails rather than skipping the line.
type CorruptLogError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("corrupt conversation log %s at line %d: %v", e.Path, e.Line, e.Err)
}

func (e *CorruptLogError) Unwrap() error { return e.Err }

// Manager owns every session below one root directory. Appends are
// serialized per (session, agent) and metadata updates per session, so a
// single Manager is safe for concurrent use.
type Manager struct {
	root   string
	logger *zap.Logger

	appendLocks keyedMutex
	metaLocks   keyedMutex
}

// NewManager creates root if needed.
func NewManager(root string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions root: %w", err)
	}
	return &Manager{root: root, logger: logger.Named("session")}, nil
}

// Root returns the sessions root directory.
func (m *Manager) Root() string { return m.root }

// Create allocates a new session. userID may be empty.
func (m *Manager) Create(userID string) (string, error) {
	id := uuid.NewString()
	base := m.sessionPath(id)

	for _, dir := range []string{workspaceDirName, conversationsDirName} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0o755); err != nil {
			return "", fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	now := time.Now().UTC()
	meta := Metadata{SessionID: id, CreatedAt: now, UpdatedAt: now}
	if userID != "" {
		meta.UserID = &userID
	}
	if err := m.saveMetadata(id, meta); err != nil {
		return "", err
	}

	m.logger.Info("session created", zap.String("session_id", id), zap.String("user_id", userID))
	return id, nil
}

// FindByUser returns the most recently updated session owned by userID.
// Anonymous sessions have no owner and are never returned.
func (m *Manager) FindByUser(userID string) (string, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	all, err := m.List()
	if err != nil {
		return "", false, err
	}
	for _, meta := range all {
		if meta.UserID != nil && *meta.UserID == userID {
			return meta.SessionID, true, nil
		}
	}
	return "", false, nil
}

// GetOrCreateForUser returns the user's latest session, creating one when
// none exists. created reports which happened. An empty userID always
// creates a new anonymous session.
func (m *Manager) GetOrCreateForUser(userID string) (id string, created bool, err error) {
	id, ok, err := m.FindByUser(userID)
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, false, nil
	}
	id, err = m.Create(userID)
	return id, err == nil, err
}

// Exists reports whether the session directory is present.
func (m *Manager) Exists(id string) bool {
	if !validName(id) {
		return false
	}
	info, err := os.Stat(m.sessionPath(id))
	return err == nil && info.IsDir()
}

// SessionDir returns the shared workspace directory of a session.
func (m *Manager) SessionDir(id string) string {
	return filepath.Join(m.sessionPath(id), workspaceDirName)
}

// AppendMessage adds msg as one line to the agent's log and touches the
// session's updated_at. The log is only ever appended to.
func (m *Manager) AppendMessage(id, agent string, msg Message) error {
	if !m.Exists(id) {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	if !validName(agent) {
		return fmt.Errorf("invalid agent name %q", agent)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	line = append(line, '\n')

	path := m.conversationPath(id, agent)
	if err := m.appendLine(id+"/"+agent, path, line); err != nil {
		return err
	}

	return m.updateMetadata(id, func(meta *Metadata) {
		meta.UpdatedAt = time.Now().UTC()
	})
}

func (m *Manager) appendLine(key, path string, line []byte) error {
	unlock := m.appendLocks.Lock(key)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create conversations directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open conversation log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to conversation log: %w", err)
	}
	return f.Close()
}

// LoadConversation returns the agent's messages in append order. A missing
// log is an empty conversation. A malformed line fails the whole load with
// a *CorruptLogError.
func (m *Manager) LoadConversation(id, agent string) ([]Message, error) {
	if !validName(id) || !validName(agent) {
		return nil, fmt.Errorf("%w: %q/%q", ErrSessionNotFound, id, agent)
	}
	path := m.conversationPath(id, agent)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation log: %w", err)
	}
	defer f.Close()

	messages := []Message{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLogLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &CorruptLogError{Path: path, Line: lineNo, Err: err}
		}
		messages = append(messages, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, &CorruptLogError{Path: path, Line: lineNo + 1, Err: err}
	}
	return messages, nil
}

// UpdateTokens adds the deltas to the cumulative counters. contextTotal,
// when non-nil, replaces the context_tokens snapshot.
func (m *Manager) UpdateTokens(id string, inputDelta, outputDelta int, contextTotal *int) error {
	return m.updateMetadata(id, func(meta *Metadata) {
		meta.InputTokens += inputDelta
		meta.OutputTokens += outputDelta
		meta.TotalTokens = meta.InputTokens + meta.OutputTokens
		if contextTotal != nil {
			meta.ContextTokens = *contextTotal
		}
	})
}

// GetMetadata loads session.json. Unknown sessions yield ErrSessionNotFound.
func (m *Manager) GetMetadata(id string) (*Metadata, error) {
	if !validName(id) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return m.loadMetadata(id)
}

// List returns the metadata of every session, most recently updated first.
// Directories without readable metadata are skipped.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !validName(e.Name()) {
			continue
		}
		meta, err := m.loadMetadata(e.Name())
		if err != nil {
			m.logger.Debug("skipping session without metadata", zap.String("session_id", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, *meta)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Manager) updateMetadata(id string, mutate func(*Metadata)) error {
	if !validName(id) {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	unlock := m.metaLocks.Lock(id)
	defer unlock()

	meta, err := m.loadMetadata(id)
	if err != nil {
		return err
	}
	mutate(meta)
	return m.saveMetadata(id, *meta)
}

func (m *Manager) loadMetadata(id string) (*Metadata, error) {
	data, err := os.ReadFile(m.metadataPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	return &meta, nil
}

// saveMetadata rewrites session.json through a temp file and rename.
func (m *Manager) saveMetadata(id string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session metadata: %w", err)
	}
	path := m.metadataPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), metadataFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session metadata: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (m *Manager) sessionPath(id string) string {
	return filepath.Join(m.root, id)
}

func (m *Manager) conversationPath(id, agent string) string {
	return filepath.Join(m.sessionPath(id), conversationsDirName, agent+".jsonl")
}

func (m *Manager) metadataPath(id string) string {
	return filepath.Join(m.sessionPath(id), metadataFileName)
}

// validName rejects IDs and agent names that could escape their directory.
func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && !strings.HasPrefix(s, ".")
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
