package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	authsvc "github.com/ivankudzin/storefront/internal/services/auth"
	"github.com/ivankudzin/storefront/internal/services/gateway"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
	"github.com/ivankudzin/storefront/internal/services/receipts"
	"github.com/ivankudzin/storefront/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/storefront/internal/transport/http/errors"
)

const (
	pendingFulfillmentMessage = "payment recorded, fulfillment pending, will resolve automatically"
	replayHeader              = "X-Idempotent-Replay"
)

type ReceiptLinker interface {
	PresignReceipt(ctx context.Context, orderID string, ttl time.Duration) (string, error)
}

type CheckoutHandler struct {
	payments   *paymentsvc.Service
	receipts   ReceiptLinker
	receiptTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewCheckoutHandler(payments *paymentsvc.Service, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{payments: payments, receiptTTL: 15 * time.Minute, log: log, now: time.Now}
}

func (h *CheckoutHandler) AttachReceipts(linker ReceiptLinker, ttl time.Duration) {
	h.receipts = linker
	if ttl > 0 {
		h.receiptTTL = ttl
	}
}

func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	itemType, ok := enums.ParseItemType(req.ItemType)
	if !ok {
		httperrors.Write(w, http.StatusUnprocessableEntity, httperrors.APIError{
			Code:    "VALIDATION_FAILED",
			Message: "unsupported item type",
			Reason:  string(enums.RejectReasonInvalidRequest),
		})
		return
	}
	email := strings.TrimSpace(req.PurchaserEmail)
	if email == "" {
		email = identity.Email
	}

	result, err := h.payments.CreateOrder(r.Context(), paymentsvc.CreateOrderInput{
		Item:             model.ItemRef{Type: itemType, ID: strings.TrimSpace(req.ItemID)},
		PurchaserID:      identity.PurchaserID,
		PurchaserEmail:   email,
		DeclaredAmount:   req.Amount,
		DeclaredCurrency: req.Currency,
		IdempotencyKey:   r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	if result.Replayed {
		w.Header().Set(replayHeader, "true")
	}
	httperrors.Write(w, http.StatusCreated, dto.CreateOrderResponse{
		OrderID:  result.OrderID,
		RecordID: result.RecordID,
		ItemType: string(result.Item.Type),
		ItemID:   result.Item.ID,
		Amount:   result.Amount,
		Currency: result.Currency,
		Gateway:  result.Gateway,
	})
}

func (h *CheckoutHandler) writeCreateError(w http.ResponseWriter, err error) {
	var (
		rejection *paymentsvc.RejectionError
		limited   *paymentsvc.RateLimitError
	)
	switch {
	case errors.As(err, &rejection):
		httperrors.Write(w, http.StatusUnprocessableEntity, httperrors.APIError{
			Code:    "VALIDATION_FAILED",
			Message: "purchase request rejected",
			Reason:  string(rejection.Reason),
		})
	case errors.As(err, &limited):
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
			Code:          "RATE_LIMITED",
			Message:       "too many orders, try again later",
			RetryAfterSec: limited.RetryAfterSec,
		})
	case errors.Is(err, paymentsvc.ErrDuplicateRequest):
		writeConflict(w, "DUPLICATE_REQUEST", "a request with this idempotency key is in progress")
	case errors.Is(err, paymentsvc.ErrCatalogUnavailable):
		writeUnavailable(w, "CATALOG_UNAVAILABLE", "catalog is temporarily unavailable")
	case errors.Is(err, paymentsvc.ErrGatewayUnavailable):
		writeUnavailable(w, "GATEWAY_UNAVAILABLE", "payment gateway is temporarily unavailable")
	default:
		h.log.Error("create order failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to create order")
	}
}

// Complete accepts the checkout proof either as JSON or as the provider's
// redirect form (razorpay_order_id, razorpay_payment_id, razorpay_signature).
func (h *CheckoutHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	proof, ok := readProof(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.payments.CompletePayment(r.Context(), proof)
	h.writeCompletion(w, result, err)
}

func (h *CheckoutHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.payments.CompleteFromWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature"))
	switch {
	case errors.Is(err, gateway.ErrWebhookSignature):
		writeUnauthorized(w, "INVALID_SIGNATURE", "webhook signature mismatch")
		return
	case errors.Is(err, gateway.ErrWebhookPayload):
		writeBadRequest(w, "VALIDATION_ERROR", "unsupported webhook payload")
		return
	case errors.Is(err, paymentsvc.ErrWebhookIgnored):
		httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Ignored: true})
		return
	case errors.Is(err, paymentsvc.ErrFulfillmentFailed):
		// Acknowledge: the record is pending and the retry job owns it now.
		httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Status: string(enums.PaymentStatusPending)})
		return
	case err != nil:
		h.writeCompletion(w, result, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true, Status: string(result.Status)})
}

func (h *CheckoutHandler) writeCompletion(w http.ResponseWriter, result paymentsvc.CompletionResult, err error) {
	var verifyErr *paymentsvc.VerificationError
	switch {
	case err == nil:
		if result.AlreadyProcessed {
			w.Header().Set(replayHeader, "true")
		}
		httperrors.Write(w, http.StatusOK, completionResponse(result))
	case errors.Is(err, paymentsvc.ErrFulfillmentFailed):
		resp := completionResponse(result)
		resp.Message = pendingFulfillmentMessage
		httperrors.Write(w, http.StatusAccepted, resp)
	case errors.Is(err, paymentsvc.ErrUnknownOrder):
		writeNotFound(w, "UNKNOWN_ORDER", "order not found")
	case errors.Is(err, paymentsvc.ErrAlreadyFailed):
		writeConflict(w, "ALREADY_FAILED", "order has already failed, start a new checkout")
	case errors.As(err, &verifyErr):
		httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{
			Code:    "VERIFICATION_FAILED",
			Message: "payment could not be verified",
			Reason:  string(verifyErr.Reason),
		})
	case errors.Is(err, paymentsvc.ErrMalformedProof):
		httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{
			Code:    "VERIFICATION_FAILED",
			Message: "payment proof is incomplete",
			Reason:  string(enums.VerifyFailureMalformedProof),
		})
	case errors.Is(err, paymentsvc.ErrGatewayUnavailable):
		writeUnavailable(w, "GATEWAY_UNAVAILABLE", "payment gateway is temporarily unavailable, retry")
	default:
		h.log.Error("complete payment failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to complete payment")
	}
}

func (h *CheckoutHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	rec, err := h.payments.OrderStatus(r.Context(), chi.URLParam(r, "orderID"), identity.PurchaserID)
	if err != nil {
		if errors.Is(err, paymentsvc.ErrUnknownOrder) {
			writeNotFound(w, "UNKNOWN_ORDER", "order not found")
			return
		}
		h.log.Error("order status failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to load order")
		return
	}

	resp := dto.OrderStatusResponse{
		OrderID:     rec.GatewayOrderID,
		RecordID:    rec.ID,
		Status:      string(rec.Status),
		ItemType:    string(rec.Item.Type),
		ItemID:      rec.Item.ID,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
	if rec.Fulfillment != nil {
		resp.AccessURL = rec.Fulfillment.AccessURL
	}
	if rec.FailureReason != nil {
		resp.FailureReason = *rec.FailureReason
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil || h.receipts == nil {
		writeUnavailable(w, "RECEIPTS_UNAVAILABLE", "receipts are not configured")
		return
	}

	rec, err := h.payments.OrderStatus(r.Context(), chi.URLParam(r, "orderID"), identity.PurchaserID)
	if err != nil {
		if errors.Is(err, paymentsvc.ErrUnknownOrder) {
			writeNotFound(w, "UNKNOWN_ORDER", "order not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load order")
		return
	}
	if rec.Status != enums.PaymentStatusCompleted {
		writeNotFound(w, "RECEIPT_NOT_FOUND", "receipt is issued once the order completes")
		return
	}

	link, err := h.receipts.PresignReceipt(r.Context(), rec.GatewayOrderID, h.receiptTTL)
	if err != nil {
		if errors.Is(err, receipts.ErrReceiptNotFound) {
			writeNotFound(w, "RECEIPT_NOT_FOUND", "receipt is not ready yet")
			return
		}
		h.log.Error("presign receipt failed", zap.String("order_id", rec.GatewayOrderID), zap.Error(err))
		writeUnavailable(w, "RECEIPTS_UNAVAILABLE", "receipt storage is unavailable")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ReceiptLinkResponse{
		URL:       link,
		ExpiresAt: h.now().UTC().Add(h.receiptTTL),
	})
}

func readProof(r *http.Request) (model.VerificationProof, bool) {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return model.VerificationProof{}, false
		}
		return model.VerificationProof{
			OrderID:   r.PostForm.Get("razorpay_order_id"),
			PaymentID: r.PostForm.Get("razorpay_payment_id"),
			Signature: r.PostForm.Get("razorpay_signature"),
		}, true
	}

	var req dto.CompletePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		return model.VerificationProof{}, false
	}
	return model.VerificationProof{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}, true
}

func completionResponse(result paymentsvc.CompletionResult) dto.CompletePaymentResponse {
	resp := dto.CompletePaymentResponse{
		Status:   string(result.Status),
		OrderID:  result.OrderID,
		RecordID: result.RecordID,
		ItemType: string(result.Item.Type),
		ItemID:   result.Item.ID,
	}
	if result.Fulfillment != nil {
		fulfilledAt := result.Fulfillment.FulfilledAt
		resp.AccessURL = result.Fulfillment.AccessURL
		resp.Reference = result.Fulfillment.Reference
		resp.FulfilledAt = &fulfilledAt
	}
	return resp
}
