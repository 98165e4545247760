package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
)

type ReceiptWriter interface {
	PutReceipt(ctx context.Context, orderID string, receipt any) error
}

type receipt struct {
	RecordID  string    `json:"record_id"`
	OrderID   string    `json:"order_id"`
	ItemType  string    `json:"item_type"`
	ItemID    string    `json:"item_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Reference string    `json:"reference"`
	PaidAt    time.Time `json:"paid_at"`
}

// ReceiptArchive stores a receipt for completed purchases only.
type ReceiptArchive struct {
	writer ReceiptWriter
}

func NewReceiptArchive(writer ReceiptWriter) (*ReceiptArchive, error) {
	if writer == nil {
		return nil, fmt.Errorf("receipt writer is nil")
	}
	return &ReceiptArchive{writer: writer}, nil
}

func (a *ReceiptArchive) Notify(ctx context.Context, msg Message) error {
	if msg.Outcome != enums.OutcomeSucceeded {
		return nil
	}
	return a.writer.PutReceipt(ctx, msg.OrderID, receipt{
		RecordID:  msg.RecordID,
		OrderID:   msg.OrderID,
		ItemType:  string(msg.Item.Type),
		ItemID:    msg.Item.ID,
		Amount:    msg.Amount,
		Currency:  msg.Currency,
		Reference: msg.Reference,
		PaidAt:    msg.OccurredAt.UTC(),
	})
}
