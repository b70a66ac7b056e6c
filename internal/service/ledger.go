package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
)

const DefaultCommitAttempts = 5

type CommitResult struct {
	NewBalance int
	Event      models.UsageEvent
}

// Ledger deducts credits and appends the usage event as one unit.
type Ledger struct {
	accounts AccountStore
	log      *slog.Logger
	attempts int
	now      func() time.Time
}

func NewLedger(accounts AccountStore, log *slog.Logger, attempts int) *Ledger {
	if attempts <= 0 {
		attempts = DefaultCommitAttempts
	}
	return &Ledger{
		accounts: accounts,
		log:      log,
		attempts: attempts,
		now:      time.Now,
	}
}

// Commit charges creditsUsed against the account. The snapshot is the
// balance the caller authorized against; when another commit moved the
// balance first, the account is re-read and the balance re-checked before
// retrying.
func (l *Ledger) Commit(ctx context.Context, account *models.Account, creditsUsed int, model, prompt string) (*CommitResult, error) {
	if creditsUsed <= 0 {
		return nil, newError(KindBadRequest, StageCommitting, fmt.Sprintf("credits used must be positive, got %d", creditsUsed), nil)
	}

	current := account
	var lastErr error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		if current.Credits < creditsUsed {
			return nil, newError(KindInsufficientCredits, StageCommitting, "insufficient credits", nil)
		}

		event := &models.UsageEvent{
			AccountID:   current.ID,
			CreditsUsed: creditsUsed,
			Model:       model,
			Prompt:      prompt,
			CreatedAt:   l.now().UTC(),
		}
		balance, err := l.accounts.CommitSpend(ctx, current.Credits, event)
		if err == nil {
			return &CommitResult{NewBalance: balance, Event: *event}, nil
		}
		if errors.Is(err, repository.ErrNegativeBalance) {
			return nil, newError(KindInsufficientCredits, StageCommitting, "insufficient credits", err)
		}
		if !errors.Is(err, repository.ErrBalanceConflict) {
			return nil, newError(KindStoreError, StageCommitting, "could not record usage", err)
		}

		lastErr = err
		if l.log != nil {
			l.log.Debug("balance conflict, re-reading account", "account_id", current.ID, "attempt", attempt)
		}
		current, err = l.accounts.FindByID(ctx, account.ID)
		if err != nil {
			return nil, newError(KindStoreError, StageCommitting, "could not re-read account", err)
		}
	}

	return nil, newError(KindStoreError, StageCommitting, fmt.Sprintf("gave up after %d attempts", l.attempts), lastErr)
}
