package models

import "time"

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// HasDailyCap reports whether spend for the tier is limited per calendar day.
// Unknown tiers are treated as paid tiers without a cap.
func (t Tier) HasDailyCap() bool {
	return t == TierFree
}

type Account struct {
	ID        int64
	Email     string
	APIToken  string
	Tier      Tier
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UsageEvent struct {
	ID          int64
	AccountID   int64
	CreditsUsed int
	Model       string
	Prompt      string
	CreatedAt   time.Time
}

// BillingGap records a generation that was delivered to the caller but
// could not be charged.
type BillingGap struct {
	ID          string    `json:"id"`
	AccountID   int64     `json:"account_id"`
	CreditsUsed int       `json:"credits_used"`
	Model       string    `json:"model"`
	Prompt      string    `json:"prompt"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
