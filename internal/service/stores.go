package service

import (
	"context"
	"time"

	"github.com/digkill/creditgate/internal/models"
)

// AccountStore is the account side of the persistent store.
type AccountStore interface {
	FindByToken(ctx context.Context, token string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id int64) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateBalance(ctx context.Context, accountID int64, expected, newBalance int) error
	CommitSpend(ctx context.Context, expected int, event *models.UsageEvent) (int, error)
}

// AccountAdminStore adds the out-of-band mutations used by operators.
type AccountAdminStore interface {
	AccountStore
	SetTier(ctx context.Context, accountID int64, tier models.Tier) error
}

type UsageStore interface {
	SumSince(ctx context.Context, accountID int64, since time.Time) (int, error)
	Insert(ctx context.Context, event *models.UsageEvent) error
}
