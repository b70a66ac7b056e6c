package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/creditgate/internal/models"
)

type UsageRepository struct {
	db *sql.DB
}

func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Insert(ctx context.Context, event *models.UsageEvent) error {
	return insertUsageEvent(ctx, r.db, event)
}

// SumSince totals credits used by the account at or after since.
func (r *UsageRepository) SumSince(ctx context.Context, accountID int64, since time.Time) (int, error) {
	const query = `
SELECT COALESCE(SUM(credits_used), 0) FROM usage_events
WHERE account_id = ? AND created_at >= ?`
	row := r.db.QueryRowContext(ctx, query, accountID, since.UTC())
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

func insertUsageEvent(ctx context.Context, db execer, event *models.UsageEvent) error {
	const query = `
INSERT INTO usage_events (account_id, credits_used, model, prompt, created_at)
VALUES (?, ?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, query, event.AccountID, event.CreditsUsed, event.Model, event.Prompt, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	event.ID = id
	return nil
}
