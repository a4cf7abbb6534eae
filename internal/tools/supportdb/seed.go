package supportdb

import (
	"context"
	"database/sql"
	"fmt"
)

// Demo data. client789 is the reference customer: transfers blocked pending
// KYC review and a locked login.
var demoUsers = [][]any{
	{"client789", "João Silva Santos", "joao.silva@email.com", "+5511987654321", "active", "2025-01-15T10:30:00Z"},
	{"client001", "Maria Oliveira Costa", "maria.oliveira@email.com", "+5511912345678", "active", "2024-06-10T08:15:00Z"},
	{"client002", "Carlos Eduardo Lima", "carlos.lima@email.com", "+5521987654321", "active", "2024-07-22T14:20:00Z"},
	{"client003", "Ana Paula Ferreira", "ana.ferreira@email.com", "+5531976543210", "active", "2024-08-05T09:45:00Z"},
	{"client004", "Roberto Alves Souza", "roberto.souza@email.com", "+5541965432109", "active", "2024-09-12T11:30:00Z"},
	{"client005", "Juliana Martins Rocha", "juliana.rocha@email.com", "+5551954321098", "suspended", "2024-10-18T16:00:00Z"},
	// No merchant account.
	{"client006", "Fernando Santos Dias", "fernando.dias@email.com", "+5561943210987", "active", "2024-11-03T13:25:00Z"},
}

var demoMerchants = [][]any{
	{"mrc_10291", "client789", "Silva Comercio de Alimentos LTDA", "Mercadinho do Silva", "12.345.678/0001-90", "retail", "approved"},
	{"mrc_10001", "client001", "Oliveira Confeccoes LTDA", "Loja da Maria", "23.456.789/0001-01", "retail", "approved"},
	{"mrc_10002", "client002", "Lima Tech Solutions LTDA", "TechStore Carlos", "34.567.890/0001-12", "technology", "approved"},
	{"mrc_10003", "client003", "Ferreira Restaurante LTDA", "Sabor da Ana", "45.678.901/0001-23", "food_service", "approved"},
	{"mrc_10004", "client004", "Souza Auto Pecas LTDA", "Auto Pecas Roberto", "56.789.012/0001-34", "automotive", "approved"},
	{"mrc_10005", "client005", "Rocha Beauty Salon LTDA", "Salao Juliana", "67.890.123/0001-45", "beauty", "pending_review"},
}

var demoProducts = [][]any{
	{"mrc_10291", 1, 1, 1, 1, 1, 1, 0},
	{"mrc_10001", 1, 1, 1, 1, 1, 1, 0},
	{"mrc_10002", 1, 1, 1, 1, 1, 1, 0},
	{"mrc_10003", 1, 1, 1, 1, 1, 1, 1},
	{"mrc_10004", 1, 0, 1, 1, 1, 1, 0},
	{"mrc_10005", 1, 1, 1, 1, 0, 1, 0},
}

var demoAccounts = [][]any{
	{"mrc_10291", 15420.50, 3200.00, 0, "pending_kyc_review", "2026-02-10T14:30:00Z"},
	{"mrc_10001", 8210.35, 0.0, 1, nil, "2026-02-08T10:00:00Z"},
	{"mrc_10002", 23874.10, 0.0, 1, nil, "2026-02-11T16:00:00Z"},
	{"mrc_10003", 4120.00, 950.75, 1, nil, "2026-02-05T09:00:00Z"},
	{"mrc_10004", 31002.42, 0.0, 1, nil, "2026-02-12T12:00:00Z"},
	{"mrc_10005", 1750.00, 0.0, 0, "compliance_review", "2026-01-30T15:00:00Z"},
}

var demoAuth = [][]any{
	{"client789", "2026-02-11T08:45:00Z", 5, 1, "too_many_failed_attempts"},
	{"client001", "2026-02-12T07:00:00Z", 0, 0, nil},
	{"client002", "2026-02-10T21:00:00Z", 1, 0, nil},
	{"client003", "2026-02-09T13:00:00Z", 0, 0, nil},
	{"client004", "2026-02-13T06:00:00Z", 2, 0, nil},
	{"client005", "2026-02-01T18:00:00Z", 3, 0, nil},
}

var demoDevices = [][]any{
	{"dev_4451", "mrc_10291", "smart_pos", "maquininha_smart", "active", "2025-01-20T10:00:00Z", "2026-02-12T18:30:00Z"},
	{"dev_4452", "mrc_10001", "mobile_pos", "mobile_reader", "active", "2025-03-04T10:00:00Z", "2026-02-11T09:00:00Z"},
	{"dev_4453", "mrc_10002", "tap_to_pay_device", "tap_device_v2", "active", "2025-05-17T10:00:00Z", "2026-02-12T15:00:00Z"},
	{"dev_4454", "mrc_10003", "smart_pos", "maquininha_pro", "maintenance", "2025-06-22T10:00:00Z", nil},
	{"dev_4455", "mrc_10003", "smart_pos", "maquininha_smart", "active", "2025-08-09T10:00:00Z", "2026-02-13T11:00:00Z"},
	{"dev_4456", "mrc_10004", "mobile_pos", "mobile_reader", "inactive", "2025-02-14T10:00:00Z", nil},
}

var demoTransfers = [][]any{
	{"txf_blocked_001", "mrc_10291", 5000.00, "blocked", "account_blocked", "2026-02-11T15:20:00Z"},
	{"txf_success_001", "mrc_10291", 2500.00, "completed", nil, "2026-02-09T11:30:00Z"},
	{"txf_1000", "mrc_10001", 820.40, "completed", nil, "2026-02-08T10:12:00Z"},
	{"txf_1001", "mrc_10002", 4312.99, "completed", nil, "2026-02-11T16:45:00Z"},
	{"txf_1002", "mrc_10002", 129.90, "failed", "invalid_account", "2026-02-03T08:05:00Z"},
	{"txf_1003", "mrc_10004", 9100.00, "completed", nil, "2026-02-12T12:30:00Z"},
	{"txf_1004", "mrc_10005", 600.00, "blocked", "compliance_hold", "2026-01-30T15:10:00Z"},
}

var demoIncidents = [][]any{
	{"inc_pix_20260211", "pix", 1, "Temporary instability in Pix transfer processing", "2026-02-11T06:00:00Z"},
	{"inc_boleto_20260210", "boleto", 0, "Boleto generation service was temporarily unavailable", "2026-02-10T14:00:00Z"},
	{"inc_maquininha_20260209", "maquininha", 0, "Smart POS devices experiencing connectivity issues", "2026-02-09T09:30:00Z"},
	{"inc_api_20260212", "api", 1, "Elevated API response times", "2026-02-12T12:00:00Z"},
	{"inc_login_20260208", "authentication", 0, "Login service degradation", "2026-02-08T16:45:00Z"},
}

func (d *DB) seed(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []struct {
		query string
		rows  [][]any
	}{
		{`INSERT INTO users (id, full_name, email, phone, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`, demoUsers},
		{`INSERT INTO merchants (id, user_id, legal_name, trade_name, document, segment, onboarding_status) VALUES (?, ?, ?, ?, ?, ?, ?)`, demoMerchants},
		{`INSERT INTO products_enabled (merchant_id, maquininha, tap_to_pay, pix, boleto, link_pagamento, conta_digital, emprestimo) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, demoProducts},
		{`INSERT INTO account_status (merchant_id, balance_available, balance_blocked, transfers_enabled, block_reason, last_transfer_at) VALUES (?, ?, ?, ?, ?, ?)`, demoAccounts},
		{`INSERT INTO auth_status (user_id, last_login_at, failed_login_attempts, is_locked, lock_reason) VALUES (?, ?, ?, ?, ?)`, demoAuth},
		{`INSERT INTO devices (id, merchant_id, type, model, status, activated_at, last_seen_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, demoDevices},
		{`INSERT INTO transfers (id, merchant_id, amount, status, failure_reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`, demoTransfers},
		{`INSERT INTO incidents (id, scope, active, description, started_at) VALUES (?, ?, ?, ?, ?)`, demoIncidents},
	}
	for _, tbl := range tables {
		if err := insertAll(ctx, tx, tbl.query, tbl.rows); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed data: %w", err)
	}
	return nil
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare seed insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert seed row %v: %w", row[0], err)
		}
	}
	return nil
}
