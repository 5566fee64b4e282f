// Package repo is the sqlite-backed implementation of domain.Repository.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quantgate/signalgate/internal/database"
	"github.com/quantgate/signalgate/internal/domain"
	"github.com/quantgate/signalgate/internal/faults"
)

// SQLite implements domain.Repository over a single control-plane database.
type SQLite struct {
	db *database.DB
}

func New(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Migrate() error { return s.db.Migrate() }

// --- tenants ---

func (s *SQLite) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, status, tier, is_admin, created_at FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tenant{}, faults.NotFound("tenant not found")
	}
	return t, err
}

func (s *SQLite) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, status, tier, is_admin, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		t, err := scanTenantRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) SuspendTenant(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET status = ? WHERE id = ?`, domain.TenantSuspended, id)
	return err
}

func (s *SQLite) UpdateTenant(ctx context.Context, t domain.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, email, status, tier, is_admin, created_at) VALUES (?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET email=excluded.email, status=excluded.status, tier=excluded.tier, is_admin=excluded.is_admin`,
		t.ID, t.Email, t.Status, t.Tier, boolToInt(t.IsAdmin), t.CreatedAt.Format(time.RFC3339Nano))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (domain.Tenant, error) {
	return scanTenantRows(row)
}

func scanTenantRows(row rowScanner) (domain.Tenant, error) {
	var t domain.Tenant
	var isAdmin int
	var createdAt string
	if err := row.Scan(&t.ID, &t.Email, &t.Status, &t.Tier, &isAdmin, &createdAt); err != nil {
		return domain.Tenant{}, err
	}
	t.IsAdmin = isAdmin != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return t, nil
}

// --- profiles ---

func (s *SQLite) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, broker_login, broker_server, account_type, connected, trading_enabled, snapshot_json, gate_config_json, created_at
		 FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, faults.NotFound("profile not found")
	}
	return p, err
}

func (s *SQLite) ListProfiles(ctx context.Context, tenantID string) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, broker_login, broker_server, account_type, connected, trading_enabled, snapshot_json, gate_config_json, created_at
		 FROM profiles WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProfiles(rows)
}

func (s *SQLite) ListAllProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, broker_login, broker_server, account_type, connected, trading_enabled, snapshot_json, gate_config_json, created_at
		 FROM profiles ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProfiles(rows)
}

func scanProfiles(rows *sql.Rows) ([]domain.Profile, error) {
	var out []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var connected, tradingEnabled int
	var snapshotJSON, gateJSON, createdAt string
	if err := row.Scan(&p.ID, &p.TenantID, &p.BrokerLogin, &p.BrokerServer, &p.AccountType,
		&connected, &tradingEnabled, &snapshotJSON, &gateJSON, &createdAt); err != nil {
		return domain.Profile{}, err
	}
	p.Connected = connected != 0
	p.TradingEnabled = tradingEnabled != 0
	_ = json.Unmarshal([]byte(snapshotJSON), &p.Snapshot)
	_ = json.Unmarshal([]byte(gateJSON), &p.Gate)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return p, nil
}

func (s *SQLite) SaveProfile(ctx context.Context, p domain.Profile) error {
	snapshotJSON, err := json.Marshal(p.Snapshot)
	if err != nil {
		return err
	}
	gateJSON, err := json.Marshal(p.Gate)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, tenant_id, broker_login, broker_server, account_type, connected, trading_enabled, snapshot_json, gate_config_json, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   broker_login=excluded.broker_login, broker_server=excluded.broker_server, account_type=excluded.account_type,
		   connected=excluded.connected, trading_enabled=excluded.trading_enabled,
		   snapshot_json=excluded.snapshot_json, gate_config_json=excluded.gate_config_json`,
		p.ID, p.TenantID, p.BrokerLogin, p.BrokerServer, p.AccountType,
		boolToInt(p.Connected), boolToInt(p.TradingEnabled), string(snapshotJSON), string(gateJSON),
		nowOrExisting(p.CreatedAt))
	return err
}

// --- positions ---

func (s *SQLite) GetOpenPositions(ctx context.Context, profileID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, ticket, symbol, side, size, open_price, current_price, stop_loss, take_profit,
		        realized_pnl, unrealized_pnl, status, signal_id, open_time, updated_at
		 FROM positions WHERE profile_id = ? AND status = 'open'`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var sl, tp sql.NullFloat64
	var signalID sql.NullString
	var openTime, updatedAt string
	if err := row.Scan(&p.ProfileID, &p.Ticket, &p.Symbol, &p.Side, &p.Size, &p.OpenPrice, &p.CurrentPrice,
		&sl, &tp, &p.RealizedPnL, &p.UnrealizedPnL, &p.Status, &signalID, &openTime, &updatedAt); err != nil {
		return domain.Position{}, err
	}
	if sl.Valid {
		p.StopLoss = &sl.Float64
	}
	if tp.Valid {
		p.TakeProfit = &tp.Float64
	}
	p.SignalID = signalID.String
	p.OpenTime, _ = time.Parse(time.RFC3339Nano, openTime)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func (s *SQLite) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (profile_id, ticket, symbol, side, size, open_price, current_price, stop_loss, take_profit,
		                         realized_pnl, unrealized_pnl, status, signal_id, open_time, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(profile_id, ticket) DO UPDATE SET
		   current_price=excluded.current_price, stop_loss=excluded.stop_loss, take_profit=excluded.take_profit,
		   realized_pnl=excluded.realized_pnl, unrealized_pnl=excluded.unrealized_pnl, status=excluded.status,
		   updated_at=excluded.updated_at`,
		p.ProfileID, p.Ticket, p.Symbol, p.Side, p.Size, p.OpenPrice, p.CurrentPrice, p.StopLoss, p.TakeProfit,
		p.RealizedPnL, p.UnrealizedPnL, p.Status, nullString(p.SignalID),
		nowOrExisting(p.OpenTime), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) ClosePosition(ctx context.Context, profileID, ticket string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = 'closed', updated_at = ? WHERE profile_id = ? AND ticket = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), profileID, ticket)
	return err
}

func (s *SQLite) ArchiveToHistory(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_history (profile_id, ticket, symbol, side, size, open_price, close_price, realized_pnl, signal_id, open_time, closed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ProfileID, p.Ticket, p.Symbol, p.Side, p.Size, p.OpenPrice, p.CurrentPrice, p.RealizedPnL,
		nullString(p.SignalID), p.OpenTime.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// --- system events ---

func (s *SQLite) AppendSystemEvent(ctx context.Context, e domain.SystemEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_events (id, type, severity, source, tenant_id, profile_id, message, details_json, acknowledged, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Type, e.Severity, e.Source, nullString(e.TenantID), nullString(e.ProfileID), e.Message,
		string(details), boolToInt(e.Acknowledged), nowOrExisting(e.CreatedAt))
	return err
}

func (s *SQLite) ListSystemEvents(ctx context.Context, filter domain.SystemEventFilter) ([]domain.SystemEvent, error) {
	query := `SELECT id, type, severity, source, tenant_id, profile_id, message, details_json, acknowledged, created_at FROM system_events WHERE 1=1`
	var args []any
	if filter.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, *filter.Severity)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Acknowledged != nil {
		query += ` AND acknowledged = ?`
		args = append(args, boolToInt(*filter.Acknowledged))
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, filter.ProfileID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SystemEvent
	for rows.Next() {
		var e domain.SystemEvent
		var tenantID, profileID sql.NullString
		var ack int
		var detailsJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Severity, &e.Source, &tenantID, &profileID, &e.Message, &detailsJSON, &ack, &createdAt); err != nil {
			return nil, err
		}
		e.TenantID = tenantID.String
		e.ProfileID = profileID.String
		e.Acknowledged = ack != 0
		_ = json.Unmarshal([]byte(detailsJSON), &e.Details)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) AcknowledgeSystemEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE system_events SET acknowledged = 1 WHERE id = ?`, id)
	return err
}

// --- decisions ---

func (s *SQLite) SaveDecision(ctx context.Context, d domain.Decision, chain domain.DecisionChain) error {
	signalJSON, err := json.Marshal(d.Signal)
	if err != nil {
		return err
	}
	checksJSON, err := json.Marshal(d.GateChecks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var validUntil any
	if d.Signal.ValidUntil != nil {
		validUntil = d.Signal.ValidUntil.Format(time.RFC3339Nano)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decision_audit (id, idempotency_key, profile_id, signal_json, gate_checks_json, outcome, reason, hash, chain_id, processing_ms, created_at, valid_until)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.IdempotencyKey, d.ProfileID, string(signalJSON), string(checksJSON), d.Outcome, d.Reason, d.Hash, d.ChainID, d.ProcessingMS,
		d.CreatedAt.Format(time.RFC3339Nano), validUntil); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	for i, node := range chain.Nodes {
		inputs, _ := json.Marshal(node.Inputs)
		outputs, _ := json.Marshal(node.Outputs)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decision_chain_nodes (id, chain_id, parent_id, seq, type, source, rationale, inputs_json, outputs_json, hash, timestamp)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			node.ID, chain.ID, nullString(node.ParentID), i, node.Type, node.Source, node.Rationale,
			string(inputs), string(outputs), node.Hash, node.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert chain node: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, idempotency_key, profile_id, signal_json, gate_checks_json, outcome, reason, hash, chain_id, processing_ms, created_at
		 FROM decision_audit WHERE id = ?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Decision{}, faults.NotFound("decision not found")
	}
	return d, err
}

func scanDecision(row rowScanner) (domain.Decision, error) {
	var d domain.Decision
	var signalJSON, checksJSON, createdAt string
	if err := row.Scan(&d.ID, &d.IdempotencyKey, &d.ProfileID, &signalJSON, &checksJSON, &d.Outcome, &d.Reason, &d.Hash, &d.ChainID, &d.ProcessingMS, &createdAt); err != nil {
		return domain.Decision{}, err
	}
	_ = json.Unmarshal([]byte(signalJSON), &d.Signal)
	_ = json.Unmarshal([]byte(checksJSON), &d.GateChecks)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return d, nil
}

func (s *SQLite) GetChain(ctx context.Context, chainID string) (domain.DecisionChain, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, type, source, rationale, inputs_json, outputs_json, hash, timestamp
		 FROM decision_chain_nodes WHERE chain_id = ? ORDER BY seq`, chainID)
	if err != nil {
		return domain.DecisionChain{}, err
	}
	defer rows.Close()

	chain := domain.DecisionChain{ID: chainID, Sealed: true}
	var nodeHashes []string
	for rows.Next() {
		var n domain.DecisionNode
		var parentID sql.NullString
		var inputsJSON, outputsJSON, ts string
		if err := rows.Scan(&n.ID, &parentID, &n.Type, &n.Source, &n.Rationale, &inputsJSON, &outputsJSON, &n.Hash, &ts); err != nil {
			return domain.DecisionChain{}, err
		}
		n.ParentID = parentID.String
		_ = json.Unmarshal([]byte(inputsJSON), &n.Inputs)
		_ = json.Unmarshal([]byte(outputsJSON), &n.Outputs)
		n.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		chain.Nodes = append(chain.Nodes, n)
		nodeHashes = append(nodeHashes, n.Hash)
	}
	if err := rows.Err(); err != nil {
		return domain.DecisionChain{}, err
	}
	if len(chain.Nodes) == 0 {
		return domain.DecisionChain{}, faults.NotFound("decision chain not found")
	}
	if len(chain.Nodes) > 0 {
		last := chain.Nodes[len(chain.Nodes)-1]
		switch last.Type {
		case domain.NodeRiskApproved:
			chain.Outcome = domain.OutcomeApproved
		case domain.NodeKillSwitchActivated, domain.NodeRiskRejected:
			chain.Outcome = domain.OutcomeRejected
		}
	}
	return chain, nil
}

func (s *SQLite) CountDecisionsToday(ctx context.Context, profileID string, today string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decision_audit WHERE profile_id = ? AND substr(created_at, 1, 10) = ?`, profileID, today)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *SQLite) ExpirePending(ctx context.Context, asOf string) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idempotency_key, profile_id, signal_json, gate_checks_json, outcome, reason, hash, chain_id, processing_ms, created_at
		 FROM decision_audit WHERE outcome IN ('pending','approved') AND valid_until IS NOT NULL AND valid_until <= ?`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range out {
		if _, err := s.db.ExecContext(ctx, `UPDATE decision_audit SET outcome = ? WHERE id = ?`, domain.OutcomeExpired, d.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLite) QueryDecisions(ctx context.Context, q domain.ProvenanceQuery) ([]domain.Decision, error) {
	query := `SELECT id, idempotency_key, profile_id, signal_json, gate_checks_json, outcome, reason, hash, chain_id, processing_ms, created_at FROM decision_audit WHERE 1=1`
	var args []any
	if q.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, q.ProfileID)
	}
	if q.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, q.Outcome)
	}
	if q.Since != "" {
		query += ` AND created_at >= ?`
		args = append(args, q.Since)
	}
	if q.Until != "" {
		query += ` AND created_at <= ?`
		args = append(args, q.Until)
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nowOrExisting(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.Format(time.RFC3339Nano)
}
