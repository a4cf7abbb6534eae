// Package supportdb implements read-only customer support tools over a
// SQLite database of users, merchants and operational records.
package supportdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing database file.
var ErrNotFound = errors.New("support database not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL,
	email      TEXT NOT NULL,
	phone      TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS merchants (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL REFERENCES users(id),
	legal_name        TEXT NOT NULL,
	trade_name        TEXT NOT NULL,
	document          TEXT NOT NULL,
	segment           TEXT NOT NULL,
	onboarding_status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products_enabled (
	merchant_id    TEXT PRIMARY KEY REFERENCES merchants(id),
	maquininha     INTEGER NOT NULL DEFAULT 0,
	tap_to_pay     INTEGER NOT NULL DEFAULT 0,
	pix            INTEGER NOT NULL DEFAULT 0,
	boleto         INTEGER NOT NULL DEFAULT 0,
	link_pagamento INTEGER NOT NULL DEFAULT 0,
	conta_digital  INTEGER NOT NULL DEFAULT 0,
	emprestimo     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account_status (
	merchant_id       TEXT PRIMARY KEY REFERENCES merchants(id),
	balance_available REAL NOT NULL DEFAULT 0,
	balance_blocked   REAL NOT NULL DEFAULT 0,
	transfers_enabled INTEGER NOT NULL DEFAULT 1,
	block_reason      TEXT,
	last_transfer_at  TEXT
);

CREATE TABLE IF NOT EXISTS auth_status (
	user_id               TEXT PRIMARY KEY REFERENCES users(id),
	last_login_at         TEXT,
	failed_login_attempts INTEGER NOT NULL DEFAULT 0,
	is_locked             INTEGER NOT NULL DEFAULT 0,
	lock_reason           TEXT
);

CREATE TABLE IF NOT EXISTS devices (
	id           TEXT PRIMARY KEY,
	merchant_id  TEXT NOT NULL REFERENCES merchants(id),
	type         TEXT NOT NULL,
	model        TEXT NOT NULL,
	status       TEXT NOT NULL,
	activated_at TEXT NOT NULL,
	last_seen_at TEXT
);

CREATE TABLE IF NOT EXISTS transfers (
	id             TEXT PRIMARY KEY,
	merchant_id    TEXT NOT NULL REFERENCES merchants(id),
	amount         REAL NOT NULL,
	status         TEXT NOT NULL,
	failure_reason TEXT,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	active      INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL,
	started_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merchants_user ON merchants(user_id);
CREATE INDEX IF NOT EXISTS idx_transfers_merchant ON transfers(merchant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_devices_merchant ON devices(merchant_id);
`

type User struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type Merchant struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	LegalName        string `json:"legal_name"`
	TradeName        string `json:"trade_name"`
	Document         string `json:"document"`
	Segment          string `json:"segment"`
	OnboardingStatus string `json:"onboarding_status"`
}

type Products struct {
	MerchantID    string `json:"merchant_id"`
	Maquininha    bool   `json:"maquininha"`
	TapToPay      bool   `json:"tap_to_pay"`
	Pix           bool   `json:"pix"`
	Boleto        bool   `json:"boleto"`
	LinkPagamento bool   `json:"link_pagamento"`
	ContaDigital  bool   `json:"conta_digital"`
	Emprestimo    bool   `json:"emprestimo"`
}

type Account struct {
	MerchantID       string  `json:"merchant_id"`
	BalanceAvailable float64 `json:"balance_available"`
	BalanceBlocked   float64 `json:"balance_blocked"`
	TransfersEnabled bool    `json:"transfers_enabled"`
	BlockReason      *string `json:"block_reason"`
	LastTransferAt   *string `json:"last_transfer_at"`
}

type Auth struct {
	UserID              string  `json:"user_id"`
	LastLoginAt         *string `json:"last_login_at"`
	FailedLoginAttempts int     `json:"failed_login_attempts"`
	IsLocked            bool    `json:"is_locked"`
	LockReason          *string `json:"lock_reason"`
}

type Device struct {
	ID          string  `json:"id"`
	MerchantID  string  `json:"merchant_id"`
	Type        string  `json:"type"`
	Model       string  `json:"model"`
	Status      string  `json:"status"`
	ActivatedAt string  `json:"activated_at"`
	LastSeenAt  *string `json:"last_seen_at"`
}

type Transfer struct {
	ID            string  `json:"id"`
	MerchantID    string  `json:"merchant_id"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	FailureReason *string `json:"failure_reason"`
	CreatedAt     string  `json:"created_at"`
}

type Incident struct {
	ID          string `json:"id"`
	Scope       string `json:"scope"`
	Active      bool   `json:"active"`
	Description string `json:"description"`
	StartedAt   string `json:"started_at"`
}

// DB is a handle on the support database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens an existing support database.
func Open(ctx context.Context, path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w at: %s", ErrNotFound, path)
	}
	return open(ctx, path)
}

// Init recreates the database at path with an empty schema, optionally
// filled with demo rows.
func Init(ctx context.Context, path string, seed bool) (*DB, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove existing database: %w", err)
	}
	d, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create support schema: %w", err)
	}
	if seed {
		if err := d.seed(ctx); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open support database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping support database: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Path() string { return d.path }

func (d *DB) Close() error { return d.db.Close() }

// User returns nil when no user has id.
func (d *DB) User(ctx context.Context, id string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx,
		`SELECT id, full_name, email, phone, status, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// MerchantForUser returns the user's first merchant, or nil.
func (d *DB) MerchantForUser(ctx context.Context, userID string) (*Merchant, error) {
	var m Merchant
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, legal_name, trade_name, document, segment, onboarding_status
		FROM merchants WHERE user_id = ? ORDER BY id ASC LIMIT 1`, userID,
	).Scan(&m.ID, &m.UserID, &m.LegalName, &m.TradeName, &m.Document, &m.Segment, &m.OnboardingStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DB) Products(ctx context.Context, merchantID string) (*Products, error) {
	var p Products
	err := d.db.QueryRowContext(ctx, `
		SELECT merchant_id, maquininha, tap_to_pay, pix, boleto, link_pagamento, conta_digital, emprestimo
		FROM products_enabled WHERE merchant_id = ?`, merchantID,
	).Scan(&p.MerchantID, &p.Maquininha, &p.TapToPay, &p.Pix, &p.Boleto, &p.LinkPagamento, &p.ContaDigital, &p.Emprestimo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) Account(ctx context.Context, merchantID string) (*Account, error) {
	var a Account
	err := d.db.QueryRowContext(ctx, `
		SELECT merchant_id, balance_available, balance_blocked, transfers_enabled, block_reason, last_transfer_at
		FROM account_status WHERE merchant_id = ?`, merchantID,
	).Scan(&a.MerchantID, &a.BalanceAvailable, &a.BalanceBlocked, &a.TransfersEnabled, &a.BlockReason, &a.LastTransferAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *DB) Auth(ctx context.Context, userID string) (*Auth, error) {
	var a Auth
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, last_login_at, failed_login_attempts, is_locked, lock_reason
		FROM auth_status WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &a.LastLoginAt, &a.FailedLoginAttempts, &a.IsLocked, &a.LockReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Transfers returns the newest transfers first.
func (d *DB) Transfers(ctx context.Context, merchantID string, limit int) ([]Transfer, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, merchant_id, amount, status, failure_reason, created_at
		FROM transfers WHERE merchant_id = ? ORDER BY created_at DESC LIMIT ?`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transfer{}
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.MerchantID, &t.Amount, &t.Status, &t.FailureReason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Devices returns the most recently seen devices first.
func (d *DB) Devices(ctx context.Context, merchantID string, limit int) ([]Device, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, merchant_id, type, model, status, activated_at, last_seen_at
		FROM devices WHERE merchant_id = ?
		ORDER BY COALESCE(last_seen_at, activated_at) DESC LIMIT ?`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Device{}
	for rows.Next() {
		var dv Device
		if err := rows.Scan(&dv.ID, &dv.MerchantID, &dv.Type, &dv.Model, &dv.Status, &dv.ActivatedAt, &dv.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, dv)
	}
	return out, rows.Err()
}

// ActiveIncidents returns active incidents, newest first.
func (d *DB) ActiveIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, scope, active, description, started_at
		FROM incidents WHERE active = 1 ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Incident{}
	for rows.Next() {
		var in Incident
		if err := rows.Scan(&in.ID, &in.Scope, &in.Active, &in.Description, &in.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
