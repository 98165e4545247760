package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
)

// Ledger stores fulfillment artifacts keyed by the payment record that produced them.
// Workshop seats draw capacity from the catalog it was built with.
type Ledger struct {
	catalog *Catalog

	mu        sync.Mutex
	courses   map[string]model.CourseGrant
	workshops map[string]model.WorkshopSeat
	services  map[string]model.ServiceBooking
}

func NewLedger(catalog *Catalog) *Ledger {
	return &Ledger{
		catalog:   catalog,
		courses:   make(map[string]model.CourseGrant),
		workshops: make(map[string]model.WorkshopSeat),
		services:  make(map[string]model.ServiceBooking),
	}
}

func (l *Ledger) GrantCourseAccess(_ context.Context, grant model.CourseGrant) (model.CourseGrant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.courses[grant.PaymentRecordID]; ok {
		return existing, nil
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	l.courses[grant.PaymentRecordID] = grant
	return grant, nil
}

func (l *Ledger) ReserveSeat(_ context.Context, seat model.WorkshopSeat) (model.WorkshopSeat, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.workshops[seat.PaymentRecordID]; ok {
		return existing, nil
	}

	seatNumber := len(l.workshopsFor(seat.WorkshopID)) + 1
	if l.catalog != nil {
		sold, err := l.catalog.claim(model.ItemRef{Type: enums.ItemTypeWorkshop, ID: seat.WorkshopID})
		if err != nil {
			return model.WorkshopSeat{}, err
		}
		seatNumber = sold
	}

	if seat.ID == "" {
		seat.ID = uuid.NewString()
	}
	seat.SeatNumber = seatNumber
	l.workshops[seat.PaymentRecordID] = seat
	return seat, nil
}

func (l *Ledger) BookService(_ context.Context, booking model.ServiceBooking) (model.ServiceBooking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.services[booking.PaymentRecordID]; ok {
		return existing, nil
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	l.services[booking.PaymentRecordID] = booking
	return booking, nil
}

func (l *Ledger) CourseGrants(purchaserID int64) []model.CourseGrant {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.CourseGrant, 0)
	for _, g := range l.courses {
		if g.PurchaserID == purchaserID {
			out = append(out, g)
		}
	}
	return out
}

func (l *Ledger) Counts() (courses, workshops, services int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.courses), len(l.workshops), len(l.services)
}

func (l *Ledger) workshopsFor(workshopID string) []model.WorkshopSeat {
	out := make([]model.WorkshopSeat, 0)
	for _, s := range l.workshops {
		if s.WorkshopID == workshopID {
			out = append(out, s)
		}
	}
	return out
}
