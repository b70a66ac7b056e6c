package service

import (
	"unicode/utf8"

	"github.com/digkill/creditgate/internal/models"
)

const (
	DefaultCharsPerToken   = 4
	DefaultTokensPerCredit = 100
)

// Estimator converts a prompt into a credit cost before anything is spent.
// It bills on input size only; the provider's reported usage is ignored.
type Estimator struct {
	charsPerToken   int
	tokensPerCredit int
}

func NewEstimator(charsPerToken, tokensPerCredit int) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	if tokensPerCredit <= 0 {
		tokensPerCredit = DefaultTokensPerCredit
	}
	return &Estimator{charsPerToken: charsPerToken, tokensPerCredit: tokensPerCredit}
}

// EstimateTokens approximates the token count of the messages' content.
func (e *Estimator) EstimateTokens(messages []models.Message) int {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	return chars / e.charsPerToken
}

// Estimate returns the credit cost, never less than one.
func (e *Estimator) Estimate(messages []models.Message) int {
	credits := e.EstimateTokens(messages) / e.tokensPerCredit
	if credits < 1 {
		return 1
	}
	return credits
}
