package model

import (
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
)

type PaymentRecord struct {
	ID               string              `json:"id"`
	Gateway          string              `json:"gateway"`
	GatewayOrderID   string              `json:"gateway_order_id"`
	GatewayPaymentID *string             `json:"gateway_payment_id,omitempty"`
	Signature        *string             `json:"-"`
	Item             ItemRef             `json:"item"`
	PurchaserID      int64               `json:"purchaser_id"`
	PurchaserEmail   string              `json:"purchaser_email"`
	Amount           int64               `json:"amount"`
	Currency         string              `json:"currency"`
	Status           enums.PaymentStatus `json:"status"`
	Fulfillment      *FulfillmentResult  `json:"fulfillment,omitempty"`
	FailureReason    *string             `json:"failure_reason,omitempty"`
	LastError        *string             `json:"last_error,omitempty"`
	Attempts         int                 `json:"attempts"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// StoredProof rebuilds the last completion proof seen for the record, if any.
func (r PaymentRecord) StoredProof() (VerificationProof, bool) {
	if r.GatewayPaymentID == nil || r.Signature == nil {
		return VerificationProof{}, false
	}
	return VerificationProof{
		OrderID:   r.GatewayOrderID,
		PaymentID: *r.GatewayPaymentID,
		Signature: *r.Signature,
	}, true
}

type VerificationProof struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type FulfillmentResult struct {
	ItemType    enums.ItemType `json:"item_type"`
	Reference   string         `json:"reference"`
	AccessURL   string         `json:"access_url,omitempty"`
	FulfilledAt time.Time      `json:"fulfilled_at"`
}
