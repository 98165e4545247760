package fulfillment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/model"
)

type CourseAccessStore interface {
	GrantCourseAccess(ctx context.Context, grant model.CourseGrant) (model.CourseGrant, error)
}

type WorkshopSeatStore interface {
	ReserveSeat(ctx context.Context, seat model.WorkshopSeat) (model.WorkshopSeat, error)
}

type ServiceBookingStore interface {
	BookService(ctx context.Context, booking model.ServiceBooking) (model.ServiceBooking, error)
}

type CourseHandler struct {
	store   CourseAccessStore
	siteURL string
	now     func() time.Time
}

func NewCourseHandler(store CourseAccessStore, siteURL string) *CourseHandler {
	return &CourseHandler{store: store, siteURL: trimSite(siteURL), now: time.Now}
}

func (h *CourseHandler) Fulfill(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	now := h.now().UTC()
	grant, err := h.store.GrantCourseAccess(ctx, model.CourseGrant{
		PaymentRecordID: rec.ID,
		PurchaserID:     rec.PurchaserID,
		CourseID:        rec.Item.ID,
		GrantedAt:       now,
	})
	if err != nil {
		return model.FulfillmentResult{}, fmt.Errorf("grant course access: %w", err)
	}

	return model.FulfillmentResult{
		Reference:   grant.ID,
		AccessURL:   fmt.Sprintf("%s/courses/%s/learn?grant=%s", h.siteURL, url.PathEscape(rec.Item.ID), url.QueryEscape(grant.ID)),
		FulfilledAt: grant.GrantedAt,
	}, nil
}

type WorkshopHandler struct {
	store   WorkshopSeatStore
	siteURL string
	now     func() time.Time
}

func NewWorkshopHandler(store WorkshopSeatStore, siteURL string) *WorkshopHandler {
	return &WorkshopHandler{store: store, siteURL: trimSite(siteURL), now: time.Now}
}

// Fulfill reserves a seat. The store re-checks capacity, so a workshop that filled
// up after the order was created fails here and the record stays pending.
func (h *WorkshopHandler) Fulfill(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	seat, err := h.store.ReserveSeat(ctx, model.WorkshopSeat{
		PaymentRecordID: rec.ID,
		PurchaserID:     rec.PurchaserID,
		WorkshopID:      rec.Item.ID,
		ReservedAt:      h.now().UTC(),
	})
	if err != nil {
		return model.FulfillmentResult{}, fmt.Errorf("reserve workshop seat: %w", err)
	}

	return model.FulfillmentResult{
		Reference:   seat.ID,
		AccessURL:   fmt.Sprintf("%s/workshops/%s/registration/%s", h.siteURL, url.PathEscape(rec.Item.ID), url.PathEscape(seat.ID)),
		FulfilledAt: seat.ReservedAt,
	}, nil
}

type ServiceHandler struct {
	store   ServiceBookingStore
	siteURL string
	now     func() time.Time
}

func NewServiceHandler(store ServiceBookingStore, siteURL string) *ServiceHandler {
	return &ServiceHandler{store: store, siteURL: trimSite(siteURL), now: time.Now}
}

func (h *ServiceHandler) Fulfill(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	booking, err := h.store.BookService(ctx, model.ServiceBooking{
		PaymentRecordID: rec.ID,
		PurchaserID:     rec.PurchaserID,
		ServiceID:       rec.Item.ID,
		ContactEmail:    rec.PurchaserEmail,
		BookedAt:        h.now().UTC(),
	})
	if err != nil {
		return model.FulfillmentResult{}, fmt.Errorf("book service: %w", err)
	}

	return model.FulfillmentResult{
		Reference:   booking.ID,
		AccessURL:   fmt.Sprintf("%s/services/%s/booking/%s", h.siteURL, url.PathEscape(rec.Item.ID), url.PathEscape(booking.ID)),
		FulfilledAt: booking.BookedAt,
	}, nil
}

func trimSite(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
