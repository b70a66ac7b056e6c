package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
)

var fixedNow = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedAccount(t *testing.T, store *repository.MemoryStore, tier models.Tier, credits int) *models.Account {
	t.Helper()
	acct, err := store.Create(context.Background(), &models.Account{
		Email:    uuid.NewString() + "@example.com",
		APIToken: uuid.NewString(),
		Tier:     tier,
		Credits:  credits,
	})
	require.NoError(t, err)
	return acct
}

func seedUsage(t *testing.T, store *repository.MemoryStore, accountID int64, credits int, at time.Time) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &models.UsageEvent{
		AccountID:   accountID,
		CreditsUsed: credits,
		CreatedAt:   at,
	}))
}

// faultyStore injects failures in front of a MemoryStore and, like the
// MySQL repository, fails commits on a canceled context.
type faultyStore struct {
	*repository.MemoryStore

	mu          sync.Mutex
	findErr     error
	tokenErr    error
	commitErr   error
	commitCalls int
}

func (s *faultyStore) FindByID(ctx context.Context, id int64) (*models.Account, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStore.FindByID(ctx, id)
}

func (s *faultyStore) FindByToken(ctx context.Context, token string) (*models.Account, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return s.MemoryStore.FindByToken(ctx, token)
}

func (s *faultyStore) CommitSpend(ctx context.Context, expected int, event *models.UsageEvent) (int, error) {
	s.mu.Lock()
	s.commitCalls++
	s.mu.Unlock()
	if s.commitErr != nil {
		return 0, s.commitErr
	}
	// database/sql refuses to begin a transaction on a finished context.
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	return s.MemoryStore.CommitSpend(ctx, expected, event)
}

// usageSpy reports an enormous usage total and counts lookups.
type usageSpy struct {
	calls int
}

func (u *usageSpy) SumSince(context.Context, int64, time.Time) (int, error) {
	u.calls++
	return 1_000_000, nil
}

func (u *usageSpy) Insert(context.Context, *models.UsageEvent) error {
	return nil
}
