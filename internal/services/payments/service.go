package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/metrics"
	"github.com/ivankudzin/storefront/internal/repo"
	"github.com/ivankudzin/storefront/internal/services/gateway"
	"github.com/ivankudzin/storefront/internal/services/notify"
)

var ErrWebhookIgnored = errors.New("webhook event does not complete a payment")

type RecordStore interface {
	PurchaseHistory
	Create(ctx context.Context, rec model.PaymentRecord) error
	FindByOrderID(ctx context.Context, orderID string) (model.PaymentRecord, error)
	Update(ctx context.Context, orderID string, fn repo.UpdateFunc) (model.PaymentRecord, error)
	ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentRecord, error)
}

type Fulfiller interface {
	Dispatch(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error)
}

type OutcomeNotifier interface {
	Publish(msg notify.Message)
}

type discardNotifier struct{}

func (discardNotifier) Publish(notify.Message) {}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type RateLimiter interface {
	AllowCreateOrder(ctx context.Context, purchaserID int64) (int64, bool, error)
}

type Dependencies struct {
	Catalog   ItemCatalog
	Records   RecordStore
	Gateway   gateway.Adapter
	Fulfiller Fulfiller
	Notifier  OutcomeNotifier
	Logger    *zap.Logger
}

type Config struct {
	GatewayTimeout    time.Duration
	CompletionTimeout time.Duration
}

type Service struct {
	validator *Validator
	records   RecordStore
	gateway   gateway.Adapter
	fulfiller Fulfiller
	notifier  OutcomeNotifier
	idem      IdempotencyStore
	limiter   RateLimiter
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

type CreateOrderInput struct {
	Item             model.ItemRef
	PurchaserID      int64
	PurchaserEmail   string
	DeclaredAmount   *int64
	DeclaredCurrency string
	IdempotencyKey   string
}

type CreateOrderResult struct {
	OrderID  string
	RecordID string
	Item     model.ItemRef
	Amount   int64
	Currency string
	Gateway  string
	Replayed bool
}

type CompletionResult struct {
	RecordID         string
	OrderID          string
	Status           enums.PaymentStatus
	Item             model.ItemRef
	Fulfillment      *model.FulfillmentResult
	AlreadyProcessed bool
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 3 * cfg.GatewayTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}

	return &Service{
		validator: NewValidator(deps.Catalog, deps.Records),
		records:   deps.Records,
		gateway:   deps.Gateway,
		fulfiller: deps.Fulfiller,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *Service) AttachIdempotency(store IdempotencyStore) {
	s.idem = store
}

func (s *Service) AttachRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

func (s *Service) GatewayName() string {
	return s.gateway.Name()
}

// CreateOrder registers a gateway order priced from the catalog and persists it as pending.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	if s.limiter != nil && in.PurchaserID > 0 {
		retryAfter, allowed, err := s.limiter.AllowCreateOrder(ctx, in.PurchaserID)
		switch {
		case err != nil:
			s.log.Warn("order rate limiter unavailable", zap.Int64("purchaser_id", in.PurchaserID), zap.Error(err))
		case !allowed:
			return CreateOrderResult{}, &RateLimitError{RetryAfterSec: retryAfter}
		}
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || s.idem == nil {
		return s.createOrder(ctx, in)
	}

	scope := idempotencyScope(in.PurchaserID)
	if res, ok, err := s.replay(ctx, scope, key, in.PurchaserID); err != nil || ok {
		return res, err
	}

	locked, err := s.idem.TryLock(ctx, scope, key)
	if err != nil {
		s.log.Warn("idempotency store unavailable", zap.Error(err))
		return s.createOrder(ctx, in)
	}
	if !locked {
		if res, ok, err := s.replay(ctx, scope, key, in.PurchaserID); err != nil || ok {
			return res, err
		}
		return CreateOrderResult{}, ErrDuplicateRequest
	}

	res, err := s.createOrder(ctx, in)
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if releaseErr := s.idem.Release(bg, scope, key); releaseErr != nil {
			s.log.Warn("release idempotency key", zap.Error(releaseErr))
		}
		return res, err
	}
	if rememberErr := s.idem.Remember(bg, scope, key, res.OrderID); rememberErr != nil {
		s.log.Warn("remember idempotency key", zap.String("order_id", res.OrderID), zap.Error(rememberErr))
	}
	return res, nil
}

func (s *Service) replay(ctx context.Context, scope, key string, purchaserID int64) (CreateOrderResult, bool, error) {
	orderID, ok, err := s.idem.Recall(ctx, scope, key)
	if err != nil {
		s.log.Warn("idempotency recall failed", zap.Error(err))
		return CreateOrderResult{}, false, nil
	}
	if !ok {
		return CreateOrderResult{}, false, nil
	}

	rec, err := s.records.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrRecordNotFound) {
			return CreateOrderResult{}, false, nil
		}
		return CreateOrderResult{}, false, fmt.Errorf("load replayed order: %w", err)
	}
	if rec.PurchaserID != purchaserID {
		return CreateOrderResult{}, false, ErrDuplicateRequest
	}

	res := orderResult(rec)
	res.Replayed = true
	return res, true, nil
}

func (s *Service) createOrder(ctx context.Context, in CreateOrderInput) (CreateOrderResult, error) {
	item, err := s.validator.Validate(ctx, Request{
		Item:             in.Item,
		PurchaserID:      in.PurchaserID,
		PurchaserEmail:   in.PurchaserEmail,
		DeclaredAmount:   in.DeclaredAmount,
		DeclaredCurrency: in.DeclaredCurrency,
	})
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) {
			metrics.OrderRejections.WithLabelValues(string(rejection.Reason)).Inc()
		}
		return CreateOrderResult{}, err
	}

	now := s.now().UTC()
	rec := model.PaymentRecord{
		ID:             s.newID(),
		Gateway:        s.gateway.Name(),
		Item:           item.Ref,
		PurchaserID:    in.PurchaserID,
		PurchaserEmail: strings.ToLower(strings.TrimSpace(in.PurchaserEmail)),
		Amount:         item.Price,
		Currency:       strings.ToUpper(item.Currency),
		Status:         enums.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The caller may go away once the remote order exists; the record is still written.
	detached := context.WithoutCancel(ctx)

	gwCtx, cancel := context.WithTimeout(detached, s.cfg.GatewayTimeout)
	started := time.Now()
	remote, err := s.gateway.CreateRemoteOrder(gwCtx, gateway.RemoteOrderInput{
		Amount:   rec.Amount,
		Currency: rec.Currency,
		Receipt:  rec.ID,
		Notes: map[string]string{
			"record_id":    rec.ID,
			"item":         rec.Item.String(),
			"purchaser_id": strconv.FormatInt(rec.PurchaserID, 10),
		},
	})
	cancel()
	metrics.GatewayLatency.WithLabelValues(s.gateway.Name(), "create_order").Observe(float64(time.Since(started).Milliseconds()))
	if err != nil {
		s.log.Warn("gateway order creation failed",
			zap.String("record_id", rec.ID),
			zap.String("item", rec.Item.String()),
			zap.Error(err),
		)
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	rec.GatewayOrderID = remote.ID

	storeCtx, cancel := context.WithTimeout(detached, s.cfg.CompletionTimeout)
	defer cancel()
	if err := s.records.Create(storeCtx, rec); err != nil {
		s.log.Error("gateway order created but payment record not persisted",
			zap.String("record_id", rec.ID),
			zap.String("order_id", rec.GatewayOrderID),
			zap.Error(err),
		)
		return CreateOrderResult{}, fmt.Errorf("persist payment record: %w", err)
	}

	metrics.OrdersCreated.WithLabelValues(string(rec.Item.Type)).Inc()
	s.log.Info("payment order created",
		zap.String("record_id", rec.ID),
		zap.String("order_id", rec.GatewayOrderID),
		zap.String("item_type", string(rec.Item.Type)),
		zap.Int64("amount", rec.Amount),
		zap.String("currency", rec.Currency),
	)
	return orderResult(rec), nil
}

// CompletePayment verifies a completion proof and fulfills the order once. Repeated
// calls for a completed order return the stored result without side effects.
func (s *Service) CompletePayment(ctx context.Context, proof model.VerificationProof) (CompletionResult, error) {
	proof = model.VerificationProof{
		OrderID:   strings.TrimSpace(proof.OrderID),
		PaymentID: strings.TrimSpace(proof.PaymentID),
		Signature: strings.TrimSpace(proof.Signature),
	}
	rec, err := s.load(ctx, proof.OrderID)
	if err != nil {
		return CompletionResult{}, err
	}
	switch rec.Status {
	case enums.PaymentStatusCompleted:
		return completionResult(rec, true), nil
	case enums.PaymentStatusFailed:
		return CompletionResult{}, ErrAlreadyFailed
	}
	if proof.PaymentID == "" || proof.Signature == "" {
		return CompletionResult{}, ErrMalformedProof
	}

	return s.complete(ctx, rec.GatewayOrderID, proof)
}

// RetryPending re-runs completion for a pending order from the last proof it accepted.
func (s *Service) RetryPending(ctx context.Context, orderID string) (CompletionResult, error) {
	rec, err := s.load(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return CompletionResult{}, err
	}
	switch rec.Status {
	case enums.PaymentStatusCompleted:
		return completionResult(rec, true), nil
	case enums.PaymentStatusFailed:
		return CompletionResult{}, ErrAlreadyFailed
	}

	proof, ok := rec.StoredProof()
	if !ok {
		return CompletionResult{}, ErrNoStoredProof
	}
	return s.complete(ctx, rec.GatewayOrderID, proof)
}

// CompleteFromWebhook completes an order from an authenticated provider webhook.
// The webhook body signature stands in for the checkout signature, so the proof
// is re-signed locally with the amount and currency the provider reported.
func (s *Service) CompleteFromWebhook(ctx context.Context, body []byte, signature string) (CompletionResult, error) {
	event, err := s.gateway.ParseWebhook(body, signature)
	if err != nil {
		return CompletionResult{}, err
	}
	// Only captured money completes an order; an authorized payment is
	// followed by its own payment.captured event.
	if event.Status != "captured" {
		s.log.Info("webhook ignored",
			zap.String("order_id", event.OrderID),
			zap.String("event", event.Event),
			zap.String("status", event.Status),
		)
		return CompletionResult{}, ErrWebhookIgnored
	}

	return s.CompletePayment(ctx, model.VerificationProof{
		OrderID:   event.OrderID,
		PaymentID: event.PaymentID,
		Signature: s.gateway.SignProof(event.OrderID, event.PaymentID, event.Amount, event.Currency),
	})
}

func (s *Service) OrderStatus(ctx context.Context, orderID string, purchaserID int64) (model.PaymentRecord, error) {
	rec, err := s.load(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return model.PaymentRecord{}, err
	}
	if purchaserID > 0 && rec.PurchaserID != purchaserID {
		return model.PaymentRecord{}, ErrUnknownOrder
	}
	return rec, nil
}

func (s *Service) StalledOrders(ctx context.Context, minAge time.Duration, limit int) ([]model.PaymentRecord, error) {
	records, err := s.records.ListStalled(ctx, s.now().UTC().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled orders: %w", err)
	}
	return records, nil
}

func (s *Service) load(ctx context.Context, orderID string) (model.PaymentRecord, error) {
	if orderID == "" {
		return model.PaymentRecord{}, ErrUnknownOrder
	}
	rec, err := s.records.FindByOrderID(ctx, orderID)
	if errors.Is(err, repo.ErrRecordNotFound) {
		return model.PaymentRecord{}, ErrUnknownOrder
	}
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("load payment record: %w", err)
	}
	return rec, nil
}

func (s *Service) complete(ctx context.Context, orderID string, proof model.VerificationProof) (CompletionResult, error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompletionTimeout)
	defer cancel()

	shortCircuit := false
	rec, err := s.records.Update(opCtx, orderID, func(txCtx context.Context, cur model.PaymentRecord) (model.PaymentRecord, bool, error) {
		switch cur.Status {
		case enums.PaymentStatusCompleted:
			shortCircuit = true
			return cur, false, nil
		case enums.PaymentStatusFailed:
			return cur, false, ErrAlreadyFailed
		}

		verification, err := s.verify(txCtx, cur, proof)
		if err != nil {
			return cur, false, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}

		now := s.now().UTC()
		next := cur
		next.UpdatedAt = now
		paymentID := proof.PaymentID
		next.GatewayPaymentID = &paymentID

		if !verification.Verified {
			if _, verified := cur.StoredProof(); verified {
				// A proof was already accepted for this order; a later bad one must not fail it.
				return cur, false, &VerificationError{Reason: verification.Reason}
			}
			reason := string(verification.Reason)
			next.Status = enums.PaymentStatusFailed
			next.FailureReason = &reason
			next.Signature = nil
			return next, true, &VerificationError{Reason: verification.Reason}
		}

		signature := proof.Signature
		next.Signature = &signature
		next.Attempts++

		result, err := s.fulfiller.Dispatch(txCtx, next)
		if err != nil {
			msg := err.Error()
			next.LastError = &msg
			return next, true, fmt.Errorf("%w: %v", ErrFulfillmentFailed, err)
		}

		next.Status = enums.PaymentStatusCompleted
		next.Fulfillment = &result
		next.CompletedAt = &now
		next.LastError = nil
		return next, true, nil
	})

	var verifyErr *VerificationError
	switch {
	case errors.Is(err, repo.ErrRecordNotFound):
		return CompletionResult{}, ErrUnknownOrder
	case shortCircuit:
		return completionResult(rec, true), nil
	case errors.As(err, &verifyErr):
		metrics.Completions.WithLabelValues(string(enums.OutcomeFailed)).Inc()
		s.log.Warn("payment verification failed",
			zap.String("record_id", rec.ID),
			zap.String("order_id", rec.GatewayOrderID),
			zap.String("reason", string(verifyErr.Reason)),
		)
		if rec.Status == enums.PaymentStatusFailed {
			s.notifier.Publish(s.message(rec, enums.OutcomeFailed))
		}
		return CompletionResult{}, err
	case errors.Is(err, ErrFulfillmentFailed):
		metrics.Completions.WithLabelValues(string(enums.OutcomePending)).Inc()
		s.log.Error("payment captured but fulfillment failed",
			zap.String("record_id", rec.ID),
			zap.String("order_id", rec.GatewayOrderID),
			zap.String("item_type", string(rec.Item.Type)),
			zap.Int("attempts", rec.Attempts),
			zap.Error(err),
		)
		if rec.Attempts == 1 {
			s.notifier.Publish(s.message(rec, enums.OutcomePending))
		}
		return completionResult(rec, false), err
	case err != nil:
		return CompletionResult{}, err
	}

	metrics.Completions.WithLabelValues(string(enums.OutcomeSucceeded)).Inc()
	s.log.Info("payment completed",
		zap.String("record_id", rec.ID),
		zap.String("order_id", rec.GatewayOrderID),
		zap.String("item_type", string(rec.Item.Type)),
		zap.Int("attempts", rec.Attempts),
	)
	s.notifier.Publish(s.message(rec, enums.OutcomeSucceeded))
	return completionResult(rec, false), nil
}

func (s *Service) verify(ctx context.Context, rec model.PaymentRecord, proof model.VerificationProof) (gateway.Verification, error) {
	vctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	started := time.Now()
	verification, err := s.gateway.Verify(vctx, proof, gateway.Expectation{
		OrderID:  rec.GatewayOrderID,
		Amount:   rec.Amount,
		Currency: rec.Currency,
	})
	metrics.GatewayLatency.WithLabelValues(s.gateway.Name(), "verify").Observe(float64(time.Since(started).Milliseconds()))
	return verification, err
}

func (s *Service) message(rec model.PaymentRecord, outcome enums.Outcome) notify.Message {
	msg := notify.Message{
		RecordID:   rec.ID,
		OrderID:    rec.GatewayOrderID,
		Email:      rec.PurchaserEmail,
		Outcome:    outcome,
		Item:       rec.Item,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		OccurredAt: s.now().UTC(),
	}
	if rec.Fulfillment != nil {
		msg.AccessURL = rec.Fulfillment.AccessURL
		msg.Reference = rec.Fulfillment.Reference
	}
	if rec.FailureReason != nil {
		msg.Reason = *rec.FailureReason
	}
	return msg
}

func orderResult(rec model.PaymentRecord) CreateOrderResult {
	return CreateOrderResult{
		OrderID:  rec.GatewayOrderID,
		RecordID: rec.ID,
		Item:     rec.Item,
		Amount:   rec.Amount,
		Currency: rec.Currency,
		Gateway:  rec.Gateway,
	}
}

func completionResult(rec model.PaymentRecord, alreadyProcessed bool) CompletionResult {
	return CompletionResult{
		RecordID:         rec.ID,
		OrderID:          rec.GatewayOrderID,
		Status:           rec.Status,
		Item:             rec.Item,
		Fulfillment:      rec.Fulfillment,
		AlreadyProcessed: alreadyProcessed,
	}
}

func idempotencyScope(purchaserID int64) string {
	return "checkout:" + strconv.FormatInt(purchaserID, 10)
}
