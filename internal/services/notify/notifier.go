package notify

import (
	"context"
	"errors"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
)

// ErrPermanent marks a delivery error that retrying cannot fix.
var ErrPermanent = errors.New("permanent notification error")

type Message struct {
	RecordID   string
	OrderID    string
	Email      string
	Outcome    enums.Outcome
	Item       model.ItemRef
	Amount     int64
	Currency   string
	AccessURL  string
	Reference  string
	Reason     string
	OccurredAt time.Time
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type Nop struct{}

func (Nop) Notify(context.Context, Message) error {
	return nil
}

func headline(msg Message) string {
	switch msg.Outcome {
	case enums.OutcomeSucceeded:
		return "Payment received"
	case enums.OutcomePending:
		return "Payment recorded, fulfillment pending"
	default:
		return "Payment could not be verified"
	}
}
