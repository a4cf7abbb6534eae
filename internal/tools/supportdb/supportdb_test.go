package supportdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

func seededDB(t *testing.T) *DB {
	t.Helper()
	db, err := Init(context.Background(), filepath.Join(t.TempDir(), "support.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func run(t *testing.T, tool engine.Tool, args map[string]any) engine.ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), "call-1", args)
	require.NoError(t, err)
	return res
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.db"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInitIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "support.db")
	db, err := Init(context.Background(), path, true)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Init(context.Background(), path, true)
	require.NoError(t, err)
	defer db.Close()

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	u, err := reopened.User(context.Background(), "client789")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "João Silva Santos", u.FullName)
}

func TestCustomerOverview(t *testing.T) {
	tool := NewCustomerOverviewTool(seededDB(t))

	res := run(t, tool, map[string]any{"user_id": "client789"})
	var got CustomerOverview
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	require.NotNil(t, got.Merchant)
	assert.Equal(t, "mrc_10291", got.Merchant.ID)
	require.NotNil(t, got.AccountStatus)
	assert.False(t, got.AccountStatus.TransfersEnabled)
	require.NotNil(t, got.AccountStatus.BlockReason)
	assert.Equal(t, "pending_kyc_review", *got.AccountStatus.BlockReason)
	require.NotNil(t, got.AuthStatus)
	assert.True(t, got.AuthStatus.IsLocked)
	require.NotNil(t, got.ProductsEnabled)
	assert.False(t, got.ProductsEnabled.Emprestimo)
	assert.Contains(t, res.Text(), "João")
	assert.Equal(t, true, res.Details.(map[string]any)["merchant_found"])

	res = run(t, tool, map[string]any{"user_id": "client006"})
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	assert.Nil(t, got.Merchant)
	assert.Nil(t, got.AccountStatus)
	assert.Nil(t, got.AuthStatus)

	res = run(t, tool, map[string]any{"user_id": "ghost"})
	var missing map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &missing))
	assert.Equal(t, "No user found for user_id 'ghost'", missing["message"])
	assert.Nil(t, missing["user"])
	assert.Equal(t, false, res.Details.(map[string]any)["found"])
}

func TestRecentOperations(t *testing.T) {
	tool := NewRecentOperationsTool(seededDB(t))

	res := run(t, tool, map[string]any{"user_id": "client789"})
	var got RecentOperations
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	require.Len(t, got.Transfers, 2)
	assert.Equal(t, "txf_blocked_001", got.Transfers[0].ID)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, 10, res.Details.(map[string]any)["limit"])

	res = run(t, tool, map[string]any{"user_id": "client789", "limit": 1})
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	assert.Len(t, got.Transfers, 1)

	res = run(t, tool, map[string]any{"user_id": "client006"})
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	assert.Equal(t, "No merchant found for user_id 'client006'", got.Message)
	assert.Empty(t, got.Transfers)

	_, err := tool.Execute(context.Background(), "c", map[string]any{"user_id": "x", "limit": 101})
	var verr *engine.ToolValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestActiveIncidents(t *testing.T) {
	res := run(t, NewActiveIncidentsTool(seededDB(t)), nil)
	var got ActiveIncidents
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &got))
	require.Len(t, got.Incidents, 2)
	assert.Equal(t, "inc_api_20260212", got.Incidents[0].ID)
	for _, in := range got.Incidents {
		assert.True(t, in.Active)
	}
}

func TestQueryFailureIsText(t *testing.T) {
	db := seededDB(t)
	require.NoError(t, db.Close())
	res := run(t, NewActiveIncidentsTool(db), nil)
	assert.Contains(t, res.Text(), "Failed to fetch active incidents: ")
}

func TestNewTools(t *testing.T) {
	var names []string
	for _, tool := range NewTools(seededDB(t)) {
		names = append(names, tool.Name)
		assert.Equal(t, "support", tool.GetCategory())
	}
	assert.Equal(t, []string{"get_customer_overview", "get_recent_operations", "get_active_incidents"}, names)
}
