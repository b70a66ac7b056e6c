package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/creditgate/internal/models"
)

// GapRepository persists billing gaps for later reconciliation.
type GapRepository struct {
	db *sql.DB
}

func NewGapRepository(db *sql.DB) *GapRepository {
	return &GapRepository{db: db}
}

func (r *GapRepository) Record(ctx context.Context, gap models.BillingGap) error {
	const query = `
INSERT INTO billing_gaps (id, account_id, credits_used, model, prompt, reason, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, gap.ID, gap.AccountID, gap.CreditsUsed, gap.Model, gap.Prompt, gap.Reason, gap.OccurredAt.UTC()); err != nil {
		return fmt.Errorf("insert billing gap: %w", err)
	}
	return nil
}

func (r *GapRepository) ListUnresolved(ctx context.Context, limit int) ([]models.BillingGap, error) {
	const query = `
SELECT id, account_id, credits_used, model, prompt, reason, occurred_at
FROM billing_gaps WHERE resolved_at IS NULL
ORDER BY occurred_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list billing gaps: %w", err)
	}
	defer rows.Close()

	var gaps []models.BillingGap
	for rows.Next() {
		var g models.BillingGap
		if err := rows.Scan(&g.ID, &g.AccountID, &g.CreditsUsed, &g.Model, &g.Prompt, &g.Reason, &g.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan billing gap: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// Resolve marks a gap as reconciled. An unknown or already resolved gap is
// ErrNotFound.
func (r *GapRepository) Resolve(ctx context.Context, id string) error {
	const query = `UPDATE billing_gaps SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve billing gap: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("gap rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
