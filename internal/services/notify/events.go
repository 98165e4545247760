package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

type outcomeEvent struct {
	RecordID   string    `json:"record_id"`
	OrderID    string    `json:"order_id"`
	Outcome    string    `json:"outcome"`
	ItemType   string    `json:"item_type"`
	ItemID     string    `json:"item_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Reference  string    `json:"reference,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher emits payment outcomes keyed by gateway order id.
type EventPublisher struct {
	publisher Publisher
}

func NewEventPublisher(publisher Publisher) (*EventPublisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("event publisher is nil")
	}
	return &EventPublisher{publisher: publisher}, nil
}

func (p *EventPublisher) Notify(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(outcomeEvent{
		RecordID:   msg.RecordID,
		OrderID:    msg.OrderID,
		Outcome:    string(msg.Outcome),
		ItemType:   string(msg.Item.Type),
		ItemID:     msg.Item.ID,
		Amount:     msg.Amount,
		Currency:   msg.Currency,
		Reference:  msg.Reference,
		Reason:     msg.Reason,
		OccurredAt: msg.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal outcome event: %v", ErrPermanent, err)
	}
	return p.publisher.Publish(ctx, msg.OrderID, raw, map[string]string{
		"event-type": "payment." + string(msg.Outcome),
	})
}
