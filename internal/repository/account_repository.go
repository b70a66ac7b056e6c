package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/creditgate/internal/models"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
SELECT id, email, api_token, tier, credits, created_at, updated_at
FROM accounts`

func (r *AccountRepository) FindByToken(ctx context.Context, token string) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE api_token = ?`, token)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE email = ?`, email)
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.findOne(ctx, selectAccount+` WHERE id = ?`, id)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	var a models.Account
	var tier string
	if err := row.Scan(&a.ID, &a.Email, &a.APIToken, &tier, &a.Credits, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Tier = models.Tier(tier)
	return &a, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	const query = `
INSERT INTO accounts (email, api_token, tier, credits)
VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, account.Email, account.APIToken, string(account.Tier), account.Credits)
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	account.ID = id
	return account, nil
}

// UpdateBalance sets the balance only if it still equals expected.
func (r *AccountRepository) UpdateBalance(ctx context.Context, accountID int64, expected, newBalance int) error {
	return updateBalance(ctx, r.db, accountID, expected, newBalance)
}

// CommitSpend deducts event.CreditsUsed from a balance expected to be
// `expected` and appends the usage event, both in one transaction.
// It returns ErrBalanceConflict when the balance moved underneath.
func (r *AccountRepository) CommitSpend(ctx context.Context, expected int, event *models.UsageEvent) (int, error) {
	if event.CreditsUsed <= 0 {
		return 0, fmt.Errorf("commit spend: credits used must be positive, got %d", event.CreditsUsed)
	}
	newBalance := expected - event.CreditsUsed

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateBalance(ctx, tx, event.AccountID, expected, newBalance); err != nil {
		return 0, err
	}
	if err := insertUsageEvent(ctx, tx, event); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit spend tx: %w", err)
	}
	return newBalance, nil
}

func updateBalance(ctx context.Context, db execer, accountID int64, expected, newBalance int) error {
	if newBalance < 0 {
		return ErrNegativeBalance
	}
	const query = `
UPDATE accounts SET credits = ?, updated_at = NOW()
WHERE id = ? AND credits = ?`
	res, err := db.ExecContext(ctx, query, newBalance, accountID, expected)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBalanceConflict
	}
	return nil
}

func (r *AccountRepository) SetTier(ctx context.Context, accountID int64, tier models.Tier) error {
	const query = `UPDATE accounts SET tier = ?, updated_at = NOW() WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(tier), accountID)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tier rows affected: %w", err)
	}
	if affected == 0 {
		// MySQL reports zero rows when the value is unchanged.
		if _, err := r.FindByID(ctx, accountID); err != nil {
			return err
		}
	}
	return nil
}
