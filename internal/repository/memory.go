package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digkill/creditgate/internal/models"
)

// MemoryStore keeps accounts, usage events and billing gaps in process.
// It mirrors the MySQL repositories and is meant for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]*models.Account
	byToken  map[string]int64
	byEmail  map[string]int64
	events   []models.UsageEvent
	gaps     []models.BillingGap
	resolved map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*models.Account),
		byToken:  make(map[string]int64),
		byEmail:  make(map[string]int64),
		resolved: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) PingContext(context.Context) error {
	return nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyAccount(id), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyAccount(id), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[id]; !ok {
		return nil, ErrNotFound
	}
	return s.copyAccount(id), nil
}

func (s *MemoryStore) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(account.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrDuplicate
	}
	if _, ok := s.byToken[account.APIToken]; ok {
		return nil, ErrDuplicate
	}
	if account.Credits < 0 {
		return nil, ErrNegativeBalance
	}

	s.nextID++
	now := s.now().UTC()
	account.ID = s.nextID
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := *account
	s.accounts[stored.ID] = &stored
	s.byToken[stored.APIToken] = stored.ID
	s.byEmail[email] = stored.ID
	return account, nil
}

func (s *MemoryStore) UpdateBalance(_ context.Context, accountID int64, expected, newBalance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBalanceLocked(accountID, expected, newBalance)
}

func (s *MemoryStore) CommitSpend(_ context.Context, expected int, event *models.UsageEvent) (int, error) {
	if event.CreditsUsed <= 0 {
		return 0, fmt.Errorf("commit spend: credits used must be positive, got %d", event.CreditsUsed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	newBalance := expected - event.CreditsUsed
	if err := s.updateBalanceLocked(event.AccountID, expected, newBalance); err != nil {
		return 0, err
	}
	s.appendEventLocked(event)
	return newBalance, nil
}

func (s *MemoryStore) SetTier(_ context.Context, accountID int64, tier models.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Tier = tier
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, event *models.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[event.AccountID]; !ok {
		return ErrNotFound
	}
	s.appendEventLocked(event)
	return nil
}

func (s *MemoryStore) SumSince(_ context.Context, accountID int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.events {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			total += e.CreditsUsed
		}
	}
	return total, nil
}

// Events returns the usage events recorded for the account, oldest first.
func (s *MemoryStore) Events(accountID int64) []models.UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.UsageEvent
	for _, e := range s.events {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Record(_ context.Context, gap models.BillingGap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps = append(s.gaps, gap)
	return nil
}

func (s *MemoryStore) ListUnresolved(_ context.Context, limit int) ([]models.BillingGap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BillingGap, 0, len(s.gaps))
	for _, g := range s.gaps {
		if _, done := s.resolved[g.ID]; !done {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.resolved[id]; done {
		return ErrNotFound
	}
	for _, g := range s.gaps {
		if g.ID == id {
			s.resolved[id] = s.now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) updateBalanceLocked(accountID int64, expected, newBalance int) error {
	if newBalance < 0 {
		return ErrNegativeBalance
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if a.Credits != expected {
		return ErrBalanceConflict
	}
	a.Credits = newBalance
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) appendEventLocked(event *models.UsageEvent) {
	s.nextID++
	event.ID = s.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	s.events = append(s.events, *event)
}

func (s *MemoryStore) copyAccount(id int64) *models.Account {
	a := *s.accounts[id]
	return &a
}
