package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/digkill/creditgate/internal/config"
	"github.com/digkill/creditgate/internal/models"
	"github.com/digkill/creditgate/internal/repository"
	"github.com/digkill/creditgate/internal/upstream"
)

const (
	promptExcerptLimit = 4096
	commitTimeout      = 10 * time.Second
)

// Completer is the provider side of a generation.
type Completer interface {
	Complete(ctx context.Context, req upstream.CompletionRequest) (*upstream.Completion, error)
}

// GapRecorder receives generations that were delivered but not charged.
type GapRecorder interface {
	Record(ctx context.Context, gap models.BillingGap) int
}

type GenerateRequest struct {
	Messages    []models.Message
	MaxTokens   *int
	Temperature *float64
	Stream      bool
}

type GenerateResult struct {
	Content          string
	Model            string
	CreditsUsed      int
	RemainingCredits int
	BillingRecorded  bool
}

type GenerationService struct {
	cfg       config.Config
	log       *slog.Logger
	accounts  AccountStore
	estimator *Estimator
	guard     *QuotaGuard
	ledger    *Ledger
	provider  Completer
	gaps      GapRecorder
}

func NewGenerationService(cfg config.Config, log *slog.Logger, accounts AccountStore, estimator *Estimator, guard *QuotaGuard, ledger *Ledger, provider Completer, gaps GapRecorder) *GenerationService {
	return &GenerationService{
		cfg:       cfg,
		log:       log,
		accounts:  accounts,
		estimator: estimator,
		guard:     guard,
		ledger:    ledger,
		provider:  provider,
		gaps:      gaps,
	}
}

// Generate runs one metered request: authenticate, price, authorize, call
// the provider, then charge. Nothing is charged unless the provider
// answered; a failed charge after a successful answer still returns the
// content and is handed to the gap recorder.
func (s *GenerationService) Generate(ctx context.Context, token string, req GenerateRequest) (*GenerateResult, error) {
	account, err := authenticate(ctx, s.accounts, token)
	if err != nil {
		return nil, err
	}

	if err := validate(req); err != nil {
		return nil, err
	}
	cost := s.estimator.Estimate(req.Messages)

	decision := s.guard.Authorize(ctx, account.ID, cost)
	if !decision.Allowed {
		s.log.Info("generation denied",
			"account_id", account.ID,
			"kind", decision.Kind,
			"credits_needed", cost,
			"today_usage", decision.TodayUsage,
		)
		return nil, decision.Err()
	}

	completion, err := s.callProvider(ctx, req)
	if err != nil {
		s.log.Error("upstream call failed", "account_id", account.ID, "err", err)
		return nil, err
	}

	result := &GenerateResult{
		Content:     completion.Content,
		Model:       completion.Model,
		CreditsUsed: cost,
	}
	if result.Model == "" {
		result.Model = s.cfg.UpstreamModel
	}

	// The provider has been paid for by now; the charge must land even if
	// the caller is gone. Usage rows carry the configured model, the
	// provider's echo is only logged.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	model := s.cfg.UpstreamModel
	prompt := promptExcerpt(req.Messages)
	commit, err := s.ledger.Commit(commitCtx, decision.Account, cost, model, prompt)
	if err != nil {
		result.RemainingCredits = decision.Account.Credits
		s.recordGap(ctx, models.BillingGap{
			AccountID:   account.ID,
			CreditsUsed: cost,
			Model:       model,
			Prompt:      prompt,
			Reason:      err.Error(),
		})
		return result, nil
	}

	result.RemainingCredits = commit.NewBalance
	result.BillingRecorded = true
	s.log.Info("generation completed",
		"account_id", account.ID,
		"credits_used", cost,
		"remaining_credits", commit.NewBalance,
		"upstream_id", completion.ID,
		"upstream_model", completion.Model,
		"upstream_total_tokens", completion.Usage.TotalTokens,
		"estimated_tokens", s.estimator.EstimateTokens(req.Messages),
	)
	return result, nil
}

// authenticate resolves an API token. A missing account and a failing
// store are different outcomes.
func authenticate(ctx context.Context, accounts AccountStore, token string) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindUnauthenticated, StageAuthenticating, "missing API token", nil)
	}
	account, err := accounts.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(KindUnauthenticated, StageAuthenticating, "invalid API token", nil)
		}
		return nil, newError(KindStoreError, StageAuthenticating, "could not verify API token", err)
	}
	return account, nil
}

func (s *GenerationService) callProvider(ctx context.Context, req GenerateRequest) (*upstream.Completion, error) {
	maxTokens := s.cfg.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := s.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	// A caller hanging up must not abandon a call that may still be billed.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UpstreamTimeout)
	defer cancel()

	completion, err := s.provider.Complete(callCtx, upstream.CompletionRequest{
		Model:       s.cfg.UpstreamModel,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      req.Stream,
	})
	if err != nil {
		if isTimeout(err) {
			return nil, newError(KindUpstreamTimeout, StageCallingProvider, "request timeout", err)
		}
		return nil, newError(KindUpstreamError, StageCallingProvider, "AI service error", err)
	}
	return completion, nil
}

func (s *GenerationService) recordGap(ctx context.Context, gap models.BillingGap) {
	if s.gaps == nil {
		s.log.Error("billing reconciliation gap", "account_id", gap.AccountID, "credits_used", gap.CreditsUsed, "reason", gap.Reason)
		return
	}
	s.gaps.Record(ctx, gap)
}

func validate(req GenerateRequest) error {
	for i, m := range req.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return badRequest("messages[%d].role is required", i)
		}
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return badRequest("max_tokens must be positive")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return badRequest("temperature must be between 0 and 2")
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// promptExcerpt keeps the last message as JSON for the audit trail.
func promptExcerpt(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	raw, err := json.Marshal(messages[len(messages)-1])
	if err != nil {
		return fmt.Sprintf("%q", messages[len(messages)-1].Content)
	}
	if len(raw) <= promptExcerptLimit {
		return string(raw)
	}
	cut := promptExcerptLimit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return string(raw[:cut])
}
