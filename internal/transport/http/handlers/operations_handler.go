package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
	"github.com/ivankudzin/storefront/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/storefront/internal/transport/http/errors"
)

const (
	defaultStalledMinAge = 2 * time.Minute
	maxStalledLimit      = 200
)

// StalledOrders lists paid orders whose fulfillment has not gone through yet.
func (h *CheckoutHandler) StalledOrders(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeUnavailable(w, "PAYMENTS_UNAVAILABLE", "payments service is unavailable")
		return
	}

	minAge := defaultStalledMinAge
	if raw := r.URL.Query().Get("min_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "min_age must be a non-negative duration")
			return
		}
		minAge = d
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxStalledLimit {
			writeBadRequest(w, "VALIDATION_ERROR", "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	records, err := h.payments.StalledOrders(r.Context(), minAge, limit)
	if err != nil {
		h.log.Error("list stalled orders failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to list stalled orders")
		return
	}

	resp := dto.StalledOrdersResponse{Items: make([]dto.StalledOrderResponse, 0, len(records))}
	for _, rec := range records {
		item := dto.StalledOrderResponse{
			OrderID:   rec.GatewayOrderID,
			RecordID:  rec.ID,
			ItemType:  string(rec.Item.Type),
			ItemID:    rec.Item.ID,
			Attempts:  rec.Attempts,
			UpdatedAt: rec.UpdatedAt,
		}
		if rec.LastError != nil {
			item.LastError = *rec.LastError
		}
		resp.Items = append(resp.Items, item)
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *CheckoutHandler) RetryOrder(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeUnavailable(w, "PAYMENTS_UNAVAILABLE", "payments service is unavailable")
		return
	}

	orderID := chi.URLParam(r, "orderID")
	result, err := h.payments.RetryPending(r.Context(), orderID)
	if errors.Is(err, paymentsvc.ErrNoStoredProof) {
		writeConflict(w, "NO_STORED_PROOF", "order has no accepted payment proof to retry with")
		return
	}
	h.log.Info("operator retry", zap.String("order_id", orderID), zap.Error(err))
	h.writeCompletion(w, result, err)
}
