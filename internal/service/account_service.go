package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
)

type AccountStatus struct {
	Email      string
	Tier       models.Tier
	Credits    int
	TodayUsage int
	APIToken   string
}

type AccountService struct {
	accounts        AccountAdminStore
	guard           *QuotaGuard
	startingCredits int
	attempts        int
}

func NewAccountService(accounts AccountAdminStore, guard *QuotaGuard, startingCredits, attempts int) *AccountService {
	if attempts <= 0 {
		attempts = DefaultCommitAttempts
	}
	return &AccountService{
		accounts:        accounts,
		guard:           guard,
		startingCredits: startingCredits,
		attempts:        attempts,
	}
}

// Create provisions a free-tier account with the starting grant and a
// fresh API token. An existing email is a conflict and is left untouched.
func (s *AccountService) Create(ctx context.Context, email string) (*models.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, newError(KindBadRequest, "", "email is required", nil)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, newError(KindBadRequest, "", "invalid email address", nil)
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, newError(KindConflict, "", "user already exists", nil)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindStoreError, "", "could not check existing account", err)
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Email:    email,
		APIToken: uuid.NewString(),
		Tier:     models.TierFree,
		Credits:  s.startingCredits,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newError(KindConflict, "", "user already exists", err)
		}
		return nil, newError(KindStoreError, "", "could not create account", err)
	}
	return account, nil
}

// Authenticate resolves an API token to its account.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	return authenticate(ctx, s.accounts, token)
}

func (s *AccountService) Status(ctx context.Context, token string) (*AccountStatus, error) {
	account, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	used, err := s.guard.TodayUsage(ctx, account.ID)
	if err != nil {
		return nil, newError(KindStoreError, "", "could not read today's usage", err)
	}
	return &AccountStatus{
		Email:      account.Email,
		Tier:       account.Tier,
		Credits:    account.Credits,
		TodayUsage: used,
		APIToken:   account.APIToken,
	}, nil
}

// TopUp adds delta credits out of band. It goes through the same
// conditional balance update as spends so it cannot overwrite one.
func (s *AccountService) TopUp(ctx context.Context, accountID int64, delta int) (*models.Account, error) {
	if delta <= 0 {
		return nil, newError(KindBadRequest, "", fmt.Sprintf("top-up must be positive, got %d", delta), nil)
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		account, err := s.findByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
		err = s.accounts.UpdateBalance(ctx, accountID, account.Credits, account.Credits+delta)
		if err == nil {
			account.Credits += delta
			return account, nil
		}
		if !errors.Is(err, repository.ErrBalanceConflict) {
			return nil, newError(KindStoreError, "", "could not update balance", err)
		}
	}
	return nil, newError(KindConflict, "", "balance kept changing, try again", repository.ErrBalanceConflict)
}

func (s *AccountService) SetTier(ctx context.Context, accountID int64, tier models.Tier) (*models.Account, error) {
	tier = models.Tier(strings.ToLower(strings.TrimSpace(string(tier))))
	if tier == "" {
		return nil, newError(KindBadRequest, "", "tier is required", nil)
	}
	if err := s.accounts.SetTier(ctx, accountID, tier); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindAccountNotFound, "", "account not found", err)
		}
		return nil, newError(KindStoreError, "", "could not update tier", err)
	}
	return s.findByID(ctx, accountID)
}

func (s *AccountService) findByID(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindAccountNotFound, "", "account not found", err)
		}
		return nil, newError(KindStoreError, "", "could not read account", err)
	}
	return account, nil
}
