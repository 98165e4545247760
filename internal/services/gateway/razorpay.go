package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
)

const razorpayName = "razorpay"

type Razorpay struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	verifyAmount  bool
	client        *http.Client
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayCaptureRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

var errPaymentNotFound = errors.New("razorpay payment not found")

func NewRazorpay(cfg Config, client *http.Client) (*Razorpay, error) {
	if strings.TrimSpace(cfg.KeyID) == "" || strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, fmt.Errorf("razorpay key id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.razorpay.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		webhookSecret = cfg.KeySecret
	}

	return &Razorpay{
		baseURL:       baseURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: webhookSecret,
		verifyAmount:  cfg.VerifyAmount,
		client:        client,
	}, nil
}

func (r *Razorpay) Name() string {
	return razorpayName
}

func (r *Razorpay) CreateRemoteOrder(ctx context.Context, in RemoteOrderInput) (RemoteOrder, error) {
	if in.Amount <= 0 || in.Currency == "" {
		return RemoteOrder{}, fmt.Errorf("invalid remote order payload")
	}

	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   in.Amount,
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Notes:    in.Notes,
	})
	if err != nil {
		return RemoteOrder{}, fmt.Errorf("marshal razorpay order: %w", err)
	}

	var order razorpayOrder
	if err := r.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return RemoteOrder{}, fmt.Errorf("create razorpay order: %w", err)
	}
	if order.ID == "" {
		return RemoteOrder{}, fmt.Errorf("create razorpay order: empty order id")
	}
	if order.Amount != in.Amount || !strings.EqualFold(order.Currency, in.Currency) {
		return RemoteOrder{}, fmt.Errorf("create razorpay order: amount echo mismatch")
	}

	return RemoteOrder{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: strings.ToUpper(order.Currency),
		Status:   order.Status,
	}, nil
}

func (r *Razorpay) Verify(ctx context.Context, proof model.VerificationProof, expected Expectation) (Verification, error) {
	if proof.OrderID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return Rejected(enums.VerifyFailureMalformedProof), nil
	}
	if proof.OrderID != expected.OrderID {
		return Rejected(enums.VerifyFailureOrderMismatch), nil
	}
	if !signatureEqual(r.SignProof(expected.OrderID, proof.PaymentID, expected.Amount, expected.Currency), proof.Signature) {
		return Rejected(enums.VerifyFailureSignatureMismatch), nil
	}
	if !r.verifyAmount {
		return Verification{Verified: true}, nil
	}

	var payment razorpayPayment
	err := r.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(proof.PaymentID), nil, &payment)
	if errors.Is(err, errPaymentNotFound) {
		return Rejected(enums.VerifyFailurePaymentNotCaptured), nil
	}
	if err != nil {
		return Verification{}, fmt.Errorf("fetch razorpay payment: %w", err)
	}

	switch {
	case payment.OrderID != expected.OrderID:
		return Rejected(enums.VerifyFailureOrderMismatch), nil
	case payment.Amount != expected.Amount:
		return Rejected(enums.VerifyFailureAmountMismatch), nil
	case !strings.EqualFold(payment.Currency, expected.Currency):
		return Rejected(enums.VerifyFailureCurrencyMismatch), nil
	}
	switch strings.ToLower(payment.Status) {
	case "captured":
		return Verification{Verified: true}, nil
	case "authorized":
		// Authorized funds are released by the provider unless captured.
		if err := r.capture(ctx, payment.ID, expected.Amount, expected.Currency); err != nil {
			return Verification{}, err
		}
		return Verification{Verified: true}, nil
	default:
		return Rejected(enums.VerifyFailurePaymentNotCaptured), nil
	}
}

func (r *Razorpay) capture(ctx context.Context, paymentID string, amount int64, currency string) error {
	body, err := json.Marshal(razorpayCaptureRequest{Amount: amount, Currency: strings.ToUpper(currency)})
	if err != nil {
		return fmt.Errorf("encode capture request: %w", err)
	}

	var payment razorpayPayment
	if err := r.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/capture", body, &payment); err != nil {
		return fmt.Errorf("capture razorpay payment: %w", err)
	}
	if !strings.EqualFold(payment.Status, "captured") {
		return fmt.Errorf("capture razorpay payment: status %q", payment.Status)
	}
	return nil
}

// SignProof reproduces the checkout signature: HMAC-SHA256 over "order_id|payment_id".
func (r *Razorpay) SignProof(orderID, paymentID string, _ int64, _ string) string {
	return hmacHex(r.keySecret, orderID, paymentID)
}

func (r *Razorpay) ParseWebhook(body []byte, signature string) (WebhookEvent, error) {
	if !signatureEqual(hmacHexBytes(r.webhookSecret, body), signature) {
		return WebhookEvent{}, ErrWebhookSignature
	}
	return parsePaymentWebhook(body)
}

func (r *Razorpay) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return errPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parsePaymentWebhook(body []byte) (WebhookEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookPayload, err)
	}
	entity := hook.Payload.Payment.Entity
	if entity.ID == "" || entity.OrderID == "" {
		return WebhookEvent{}, ErrWebhookPayload
	}
	return WebhookEvent{
		Event:     hook.Event,
		OrderID:   entity.OrderID,
		PaymentID: entity.ID,
		Amount:    entity.Amount,
		Currency:  strings.ToUpper(entity.Currency),
		Status:    strings.ToLower(entity.Status),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
