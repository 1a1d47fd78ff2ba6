// Package repo persists trade results and change decisions to Postgres for
// offline audit. The whole layer is optional: without a DSN every method is
// a no-op.
package repo

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// TradeRow is one executed trade as stored in team_trades.
type TradeRow struct {
	RequestID  string
	Instrument string
	Action     string
	Side       string
	Size       float64
	AvgPrice   float64
	PnL        float64
	DryRun     bool
}

// DecisionRow is one approval or rejection as stored in team_decisions.
type DecisionRow struct {
	RequestID string
	Kind      string // bus message type that carried the decision
	Approved  bool
	Reason    string
}

// AuditRepo writes audit rows through go-zero's sqlx layer on the pgx
// driver. A nil *AuditRepo is valid and silently discards writes.
type AuditRepo struct {
	conn sqlx.SqlConn
}

// New returns nil when no DSN is configured.
func New(dsn string) *AuditRepo {
	if dsn == "" {
		return nil
	}
	return &AuditRepo{conn: sqlx.NewSqlConn("pgx", dsn)}
}

// EnsureSchema creates the audit tables when missing.
func (r *AuditRepo) EnsureSchema(ctx context.Context) error {
	if r == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS team_trades (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			instrument TEXT NOT NULL,
			action TEXT NOT NULL,
			side TEXT NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			avg_price DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			dry_run BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS team_decisions (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			approved BOOLEAN NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.conn.ExecCtx(ctx, stmt); err != nil {
			return fmt.Errorf("repo: ensure schema: %w", err)
		}
	}
	return nil
}

// SaveTrade inserts one executed trade.
func (r *AuditRepo) SaveTrade(ctx context.Context, row TradeRow) error {
	if r == nil {
		return nil
	}
	const q = `INSERT INTO team_trades
		(request_id, instrument, action, side, size, avg_price, pnl, dry_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.conn.ExecCtx(ctx, q,
		row.RequestID, row.Instrument, row.Action, row.Side, row.Size, row.AvgPrice, row.PnL, row.DryRun); err != nil {
		return fmt.Errorf("repo: save trade: %w", err)
	}
	return nil
}

// SaveDecision inserts one approval or rejection.
func (r *AuditRepo) SaveDecision(ctx context.Context, row DecisionRow) error {
	if r == nil {
		return nil
	}
	const q = `INSERT INTO team_decisions (request_id, kind, approved, reason)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.conn.ExecCtx(ctx, q, row.RequestID, row.Kind, row.Approved, row.Reason); err != nil {
		return fmt.Errorf("repo: save decision: %w", err)
	}
	return nil
}
