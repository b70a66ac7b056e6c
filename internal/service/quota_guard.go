package service

import (
	"context"
	"errors"
	"time"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
)

const DefaultFreeDailyCap = 100

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed    bool
	Kind       Kind
	Reason     string
	Account    *models.Account
	TodayUsage int
	err        error
}

// Err converts a denial into an *Error; it is nil when the spend is allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return newError(d.Kind, StageAuthorizing, d.Reason, d.err)
}

// QuotaGuard decides whether an account may spend credits right now.
// It only reads; the spend itself happens in the Ledger.
type QuotaGuard struct {
	accounts AccountStore
	usage    UsageStore
	dailyCap int
	loc      *time.Location
	now      func() time.Time
}

func NewQuotaGuard(accounts AccountStore, usage UsageStore, dailyCap int, loc *time.Location) *QuotaGuard {
	if dailyCap <= 0 {
		dailyCap = DefaultFreeDailyCap
	}
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaGuard{
		accounts: accounts,
		usage:    usage,
		dailyCap: dailyCap,
		loc:      loc,
		now:      time.Now,
	}
}

func (g *QuotaGuard) Authorize(ctx context.Context, accountID int64, creditsNeeded int) Decision {
	account, err := g.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Decision{Kind: KindAccountNotFound, Reason: "account not found", err: err}
		}
		return Decision{Kind: KindStoreError, Reason: "could not verify account", err: err}
	}

	decision := Decision{Account: account}

	if account.Tier.HasDailyCap() {
		used, err := g.TodayUsage(ctx, account.ID)
		if err != nil {
			decision.Kind = KindStoreError
			decision.Reason = "could not verify daily usage"
			decision.err = err
			return decision
		}
		decision.TodayUsage = used
		if used+creditsNeeded > g.dailyCap {
			decision.Kind = KindQuotaExceeded
			decision.Reason = "daily limit exceeded"
			return decision
		}
	}

	if account.Credits < creditsNeeded {
		decision.Kind = KindInsufficientCredits
		decision.Reason = "insufficient credits"
		return decision
	}

	decision.Allowed = true
	return decision
}

// TodayUsage sums credits spent since the start of the current day.
func (g *QuotaGuard) TodayUsage(ctx context.Context, accountID int64) (int, error) {
	return g.usage.SumSince(ctx, accountID, g.StartOfDay())
}

func (g *QuotaGuard) StartOfDay() time.Time {
	now := g.now().In(g.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
}
