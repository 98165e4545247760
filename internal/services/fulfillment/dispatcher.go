package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/metrics"
)

var (
	ErrNoHandler     = errors.New("no fulfillment handler for item type")
	ErrInvalidRecord = errors.New("payment record cannot be fulfilled")
)

// Handler grants whatever a paid item entitles the purchaser to. Fulfill must be
// safe to call again for the same payment record.
type Handler interface {
	Fulfill(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error)
}

type HandlerFunc func(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error)

func (f HandlerFunc) Fulfill(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	return f(ctx, rec)
}

type Dispatcher struct {
	handlers map[enums.ItemType]Handler
	log      *zap.Logger
}

func NewDispatcher(handlers map[enums.ItemType]Handler, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	table := make(map[enums.ItemType]Handler, len(handlers))
	for itemType, h := range handlers {
		if h != nil {
			table[itemType] = h
		}
	}
	return &Dispatcher{handlers: table, log: log}
}

func (d *Dispatcher) Dispatch(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	if rec.ID == "" || rec.PurchaserID <= 0 || rec.Item.ID == "" {
		return model.FulfillmentResult{}, ErrInvalidRecord
	}
	h, ok := d.handlers[rec.Item.Type]
	if !ok {
		return model.FulfillmentResult{}, fmt.Errorf("%w: %s", ErrNoHandler, rec.Item.Type)
	}

	result, err := h.Fulfill(ctx, rec)
	if err != nil {
		metrics.FulfillmentFailures.WithLabelValues(string(rec.Item.Type)).Inc()
		d.log.Warn("fulfillment failed",
			zap.String("record_id", rec.ID),
			zap.String("order_id", rec.GatewayOrderID),
			zap.String("item_type", string(rec.Item.Type)),
			zap.Error(err),
		)
		return model.FulfillmentResult{}, err
	}

	result.ItemType = rec.Item.Type
	if result.FulfilledAt.IsZero() {
		result.FulfilledAt = time.Now().UTC()
	}
	return result, nil
}
