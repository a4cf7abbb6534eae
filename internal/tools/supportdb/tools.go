package supportdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/skywalker/internal/engine"
)

const (
	DefaultOperationsLimit = 10
	MaxOperationsLimit     = 100
)

const overviewSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "description": "Unique user identifier to fetch support overview for"}
  },
  "required": ["user_id"],
  "additionalProperties": false
}`

const operationsSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "description": "Unique user identifier whose recent operations should be fetched"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum number of transfers and devices to return (default: 10)"}
  },
  "required": ["user_id"],
  "additionalProperties": false
}`

const incidentsSchema = `{
  "type": "object",
  "properties": {},
  "additionalProperties": false
}`

type CustomerOverviewParams struct {
	UserID string `json:"user_id"`
}

type RecentOperationsParams struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// CustomerOverview is the JSON payload of get_customer_overview.
type CustomerOverview struct {
	User            *User     `json:"user"`
	Merchant        *Merchant `json:"merchant"`
	ProductsEnabled *Products `json:"products_enabled"`
	AccountStatus   *Account  `json:"account_status"`
	AuthStatus      *Auth     `json:"auth_status"`
	Message         string    `json:"message,omitempty"`
}

// RecentOperations is the JSON payload of get_recent_operations.
type RecentOperations struct {
	Transfers []Transfer `json:"transfers"`
	Devices   []Device   `json:"devices"`
	Message   string     `json:"message,omitempty"`
}

// ActiveIncidents is the JSON payload of get_active_incidents.
type ActiveIncidents struct {
	Incidents []Incident `json:"incidents"`
}

// NewTools returns the three support tools bound to db.
func NewTools(db *DB) []engine.Tool {
	return []engine.Tool{
		NewCustomerOverviewTool(db),
		NewRecentOperationsTool(db),
		NewActiveIncidentsTool(db),
	}
}

func NewCustomerOverviewTool(db *DB) engine.Tool {
	return engine.Tool{
		Name:  "get_customer_overview",
		Label: "get_customer_overview",
		Description: "Get full support overview for a user_id from the support database, returning " +
			"user, merchant, products_enabled, account_status, and auth_status.",
		SchemaJSON: overviewSchema,
		Retryable:  true,
		Metadata:   engine.ToolMetadata{Category: "support", Tags: []string{"read-only"}},
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[CustomerOverviewParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			payload, err := db.customerOverview(ctx, params.UserID)
			if err != nil {
				return failure(ctx, "Failed to fetch customer overview", err, map[string]any{"user_id": params.UserID})
			}
			details := map[string]any{"user_id": params.UserID}
			if payload.User == nil {
				details["found"] = false
			} else {
				details["merchant_found"] = payload.Merchant != nil
			}
			return jsonResult(payload, details)
		},
	}
}

func NewRecentOperationsTool(db *DB) engine.Tool {
	return engine.Tool{
		Name:        "get_recent_operations",
		Label:       "get_recent_operations",
		Description: "Get recent operational history for a user_id from the support database, returning transfers and devices.",
		SchemaJSON:  operationsSchema,
		Retryable:   true,
		Metadata:    engine.ToolMetadata{Category: "support", Tags: []string{"read-only"}},
		Fn: func(ctx context.Context, _ string, args map[string]any) (engine.ToolResult, error) {
			params, err := engine.DecodeArgs[RecentOperationsParams](args)
			if err != nil {
				return engine.ToolResult{}, err
			}
			if params.Limit <= 0 {
				params.Limit = DefaultOperationsLimit
			}
			if params.Limit > MaxOperationsLimit {
				params.Limit = MaxOperationsLimit
			}

			merchant, err := db.MerchantForUser(ctx, params.UserID)
			if err != nil {
				return failure(ctx, "Failed to fetch recent operations", err, map[string]any{"user_id": params.UserID})
			}
			if merchant == nil {
				return jsonResult(RecentOperations{
					Transfers: []Transfer{},
					Devices:   []Device{},
					Message:   fmt.Sprintf("No merchant found for user_id '%s'", params.UserID),
				}, map[string]any{"user_id": params.UserID, "found": false})
			}

			transfers, err := db.Transfers(ctx, merchant.ID, params.Limit)
			if err != nil {
				return failure(ctx, "Failed to fetch recent operations", err, map[string]any{"user_id": params.UserID})
			}
			devices, err := db.Devices(ctx, merchant.ID, params.Limit)
			if err != nil {
				return failure(ctx, "Failed to fetch recent operations", err, map[string]any{"user_id": params.UserID})
			}
			return jsonResult(RecentOperations{Transfers: transfers, Devices: devices}, map[string]any{
				"user_id":        params.UserID,
				"merchant_id":    merchant.ID,
				"limit":          params.Limit,
				"transfer_count": len(transfers),
				"device_count":   len(devices),
			})
		},
	}
}

func NewActiveIncidentsTool(db *DB) engine.Tool {
	return engine.Tool{
		Name:        "get_active_incidents",
		Label:       "get_active_incidents",
		Description: "Get all active platform incidents from the support database. Returns incidents currently marked as active.",
		SchemaJSON:  incidentsSchema,
		Retryable:   true,
		Metadata:    engine.ToolMetadata{Category: "support", Tags: []string{"read-only"}},
		Fn: func(ctx context.Context, _ string, _ map[string]any) (engine.ToolResult, error) {
			incidents, err := db.ActiveIncidents(ctx)
			if err != nil {
				return failure(ctx, "Failed to fetch active incidents", err, map[string]any{})
			}
			return jsonResult(ActiveIncidents{Incidents: incidents}, map[string]any{"active_incidents_count": len(incidents)})
		},
	}
}

func (d *DB) customerOverview(ctx context.Context, userID string) (CustomerOverview, error) {
	var out CustomerOverview
	user, err := d.User(ctx, userID)
	if err != nil {
		return out, err
	}
	if user == nil {
		out.Message = fmt.Sprintf("No user found for user_id '%s'", userID)
		return out, nil
	}
	out.User = user

	if out.Merchant, err = d.MerchantForUser(ctx, userID); err != nil {
		return out, err
	}
	if out.Merchant != nil {
		if out.ProductsEnabled, err = d.Products(ctx, out.Merchant.ID); err != nil {
			return out, err
		}
		if out.AccountStatus, err = d.Account(ctx, out.Merchant.ID); err != nil {
			return out, err
		}
	}
	if out.AuthStatus, err = d.Auth(ctx, userID); err != nil {
		return out, err
	}
	return out, nil
}

func jsonResult(payload any, details map[string]any) (engine.ToolResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return engine.ToolResult{}, fmt.Errorf("encode payload: %w", err)
	}
	return engine.TextResult(strings.TrimRight(buf.String(), "\n"), details), nil
}

// failure reports query errors to the model as text. Cancellation still
// aborts the call.
func failure(ctx context.Context, prefix string, err error, details map[string]any) (engine.ToolResult, error) {
	if abort := engine.CheckAbort(ctx); abort != nil {
		return engine.ToolResult{}, abort
	}
	details["error"] = err.Error()
	return engine.TextResult(prefix+": "+err.Error(), details), nil
}
