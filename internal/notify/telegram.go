// Package notify tells operators about billing gaps as they happen.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/creditgate/internal/models"
)

const maxPromptInAlert = 300

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts one message per billing gap to an operator chat.
type TelegramNotifier struct {
	api    messageSender
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramNotifierWithAPI(api, chatID), nil
}

func NewTelegramNotifierWithAPI(api *tgbotapi.BotAPI, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatID: chatID}
}

func (n *TelegramNotifier) Record(ctx context.Context, gap models.BillingGap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, alertText(gap))
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send billing gap alert: %w", err)
	}
	return nil
}

func alertText(gap models.BillingGap) string {
	var b strings.Builder
	b.WriteString("Billing gap: generation delivered but not charged\n")
	fmt.Fprintf(&b, "Gap: %s\n", gap.ID)
	fmt.Fprintf(&b, "Account: %d\n", gap.AccountID)
	fmt.Fprintf(&b, "Credits: %d\n", gap.CreditsUsed)
	if gap.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", gap.Model)
	}
	fmt.Fprintf(&b, "When: %s\n", gap.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Reason: %s", gap.Reason)
	if prompt := gap.Prompt; prompt != "" {
		runes := []rune(prompt)
		if len(runes) > maxPromptInAlert {
			prompt = string(runes[:maxPromptInAlert]) + "…"
		}
		fmt.Fprintf(&b, "\nPrompt: %s", prompt)
	}
	return b.String()
}
