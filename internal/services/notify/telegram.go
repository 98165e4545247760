package notify

import (
	"context"
	"fmt"
	"strings"
)

type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier posts every outcome to a sales/operator chat.
type TelegramNotifier struct {
	sender TextSender
	chatID int64
}

func NewTelegramNotifier(sender TextSender, chatID int64) (*TelegramNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("telegram sender is nil")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	return &TelegramNotifier{sender: sender, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headline(msg))
	fmt.Fprintf(&b, "order: %s\n", msg.OrderID)
	fmt.Fprintf(&b, "item: %s\n", msg.Item.String())
	fmt.Fprintf(&b, "amount: %s\n", formatAmount(msg.Amount, msg.Currency))
	fmt.Fprintf(&b, "buyer: %s", maskEmail(msg.Email))
	if msg.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", msg.Reason)
	}
	return n.sender.SendText(ctx, n.chatID, b.String())
}

func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
