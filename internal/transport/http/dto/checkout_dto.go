package dto

import "time"

type CreateOrderRequest struct {
	ItemType       string `json:"item_type"`
	ItemID         string `json:"item_id"`
	PurchaserEmail string `json:"purchaser_email,omitempty"`
	Amount         *int64 `json:"amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
}

type CreateOrderResponse struct {
	OrderID  string `json:"order_id"`
	RecordID string `json:"record_id"`
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Gateway  string `json:"gateway"`
}

type CompletePaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type CompletePaymentResponse struct {
	Status      string     `json:"status"`
	OrderID     string     `json:"order_id"`
	RecordID    string     `json:"record_id"`
	ItemType    string     `json:"item_type"`
	ItemID      string     `json:"item_id"`
	AccessURL   string     `json:"access_url,omitempty"`
	Reference   string     `json:"reference,omitempty"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}

type WebhookResponse struct {
	OK      bool   `json:"ok"`
	Status  string `json:"status,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

type OrderStatusResponse struct {
	OrderID       string     `json:"order_id"`
	RecordID      string     `json:"record_id"`
	Status        string     `json:"status"`
	ItemType      string     `json:"item_type"`
	ItemID        string     `json:"item_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	AccessURL     string     `json:"access_url,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type ReceiptLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StalledOrderResponse struct {
	OrderID   string    `json:"order_id"`
	RecordID  string    `json:"record_id"`
	ItemType  string    `json:"item_type"`
	ItemID    string    `json:"item_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StalledOrdersResponse struct {
	Items []StalledOrderResponse `json:"items"`
}
