package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrWebhookSignature    = errors.New("webhook signature mismatch")
	ErrWebhookPayload      = errors.New("webhook payload is not a payment event")
)

type RemoteOrderInput struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type RemoteOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// Expectation is what the local record pinned at order creation.
type Expectation struct {
	OrderID  string
	Amount   int64
	Currency string
}

type Verification struct {
	Verified bool
	Reason   enums.VerifyFailure
}

func Rejected(reason enums.VerifyFailure) Verification {
	return Verification{Reason: reason}
}

// Adapter isolates one payment provider. Errors returned by its methods are
// transient; a proof that does not check out is reported through Verification.
type Adapter interface {
	Name() string
	CreateRemoteOrder(ctx context.Context, in RemoteOrderInput) (RemoteOrder, error)
	Verify(ctx context.Context, proof model.VerificationProof, expected Expectation) (Verification, error)
	SignProof(orderID, paymentID string, amount int64, currency string) string
	ParseWebhook(body []byte, signature string) (WebhookEvent, error)
}

type WebhookEvent struct {
	Event     string
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
}

type Config struct {
	Provider      string
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	VerifyAmount  bool
}

type builder func(cfg Config, client *http.Client) (Adapter, error)

var providers = map[string]builder{
	"razorpay": func(cfg Config, client *http.Client) (Adapter, error) {
		return NewRazorpay(cfg, client)
	},
	"sandbox": func(cfg Config, _ *http.Client) (Adapter, error) {
		return NewSandbox(cfg.KeySecret), nil
	},
}

func New(cfg Config, client *http.Client) (Adapter, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	build, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
	return build(cfg, client)
}
