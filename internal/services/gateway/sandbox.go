package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
)

const sandboxName = "sandbox"

// Sandbox is a deterministic provider that never leaves the process. Proof
// signatures bind order, payment, amount and currency.
type Sandbox struct {
	secret string
	prefix string

	mu        sync.Mutex
	seq       int
	createErr error
	verifyErr error
	creates   int
	verifies  int
}

type SandboxOption func(*Sandbox)

func WithOrderPrefix(prefix string) SandboxOption {
	return func(s *Sandbox) {
		s.prefix = prefix
	}
}

func NewSandbox(secret string, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		secret: secret,
		prefix: "order_sbx_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sandbox) Name() string {
	return sandboxName
}

func (s *Sandbox) CreateRemoteOrder(ctx context.Context, in RemoteOrderInput) (RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return RemoteOrder{}, err
	}
	if in.Amount <= 0 || in.Currency == "" {
		return RemoteOrder{}, fmt.Errorf("invalid remote order payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return RemoteOrder{}, s.createErr
	}
	s.seq++

	return RemoteOrder{
		ID:       fmt.Sprintf("%s%06d", s.prefix, s.seq),
		Amount:   in.Amount,
		Currency: in.Currency,
		Status:   "created",
	}, nil
}

func (s *Sandbox) Verify(ctx context.Context, proof model.VerificationProof, expected Expectation) (Verification, error) {
	if err := ctx.Err(); err != nil {
		return Verification{}, err
	}

	s.mu.Lock()
	s.verifies++
	verifyErr := s.verifyErr
	s.mu.Unlock()
	if verifyErr != nil {
		return Verification{}, verifyErr
	}

	if proof.OrderID == "" || proof.PaymentID == "" || proof.Signature == "" {
		return Rejected(enums.VerifyFailureMalformedProof), nil
	}
	if proof.OrderID != expected.OrderID {
		return Rejected(enums.VerifyFailureOrderMismatch), nil
	}
	want := s.SignProof(expected.OrderID, proof.PaymentID, expected.Amount, expected.Currency)
	if !signatureEqual(want, proof.Signature) {
		return Rejected(enums.VerifyFailureSignatureMismatch), nil
	}
	return Verification{Verified: true}, nil
}

func (s *Sandbox) SignProof(orderID, paymentID string, amount int64, currency string) string {
	return hmacHex(s.secret, orderID, paymentID, fmt.Sprintf("%d", amount), strings.ToUpper(currency))
}

// ParseWebhook accepts the same payload shape as the razorpay adapter, signed with the sandbox secret.
func (s *Sandbox) ParseWebhook(body []byte, signature string) (WebhookEvent, error) {
	if !signatureEqual(hmacHexBytes(s.secret, body), signature) {
		return WebhookEvent{}, ErrWebhookSignature
	}
	return parsePaymentWebhook(body)
}

func (s *Sandbox) SignWebhook(body []byte) string {
	return hmacHexBytes(s.secret, body)
}

func (s *Sandbox) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

func (s *Sandbox) FailVerify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyErr = err
}

func (s *Sandbox) Calls() (creates, verifies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.verifies
}
