package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

// FulfillmentRepo owns course_access, workshop_seats and service_bookings.
// Each table is unique on payment_record_id, so a repeated call returns the first row.
// Every write goes through WithTx: called from inside PaymentRecordRepo.Update it
// runs in a savepoint of the locking transaction.
type FulfillmentRepo struct {
	pool *pgxpool.Pool
}

func NewFulfillmentRepo(pool *pgxpool.Pool) *FulfillmentRepo {
	return &FulfillmentRepo{pool: pool}
}

func (r *FulfillmentRepo) GrantCourseAccess(ctx context.Context, grant model.CourseGrant) (model.CourseGrant, error) {
	if r.pool == nil {
		return model.CourseGrant{}, fmt.Errorf("postgres pool is nil")
	}
	if grant.PaymentRecordID == "" || grant.CourseID == "" {
		return model.CourseGrant{}, fmt.Errorf("invalid course grant payload")
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	var out model.CourseGrant
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(txCtx, `
INSERT INTO course_access (id, payment_record_id, purchaser_id, course_id, granted_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (payment_record_id) DO UPDATE
SET payment_record_id = course_access.payment_record_id
RETURNING id, payment_record_id, purchaser_id, course_id, granted_at
`, grant.ID, grant.PaymentRecordID, grant.PurchaserID, grant.CourseID, grant.GrantedAt.UTC()).Scan(
			&out.ID,
			&out.PaymentRecordID,
			&out.PurchaserID,
			&out.CourseID,
			&out.GrantedAt,
		)
	})
	if err != nil {
		return model.CourseGrant{}, fmt.Errorf("grant course access: %w", err)
	}
	return out, nil
}

// ReserveSeat takes the catalog row lock before counting seats, so two buyers
// cannot both claim the last seat.
func (r *FulfillmentRepo) ReserveSeat(ctx context.Context, seat model.WorkshopSeat) (model.WorkshopSeat, error) {
	if r.pool == nil {
		return model.WorkshopSeat{}, fmt.Errorf("postgres pool is nil")
	}
	if seat.PaymentRecordID == "" || seat.WorkshopID == "" {
		return model.WorkshopSeat{}, fmt.Errorf("invalid workshop seat payload")
	}
	if seat.ID == "" {
		seat.ID = uuid.NewString()
	}

	var out model.WorkshopSeat
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		existing, err := scanWorkshopSeat(tx.QueryRow(txCtx, `
SELECT id, payment_record_id, purchaser_id, workshop_id, seat_number, reserved_at
FROM workshop_seats
WHERE payment_record_id = $1
`, seat.PaymentRecordID))
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get workshop seat: %w", err)
		}

		var capacity, sold int
		err = tx.QueryRow(txCtx, `
SELECT capacity, sold
FROM catalog_items
WHERE item_type = $1
  AND item_id = $2
FOR UPDATE
`, string(enums.ItemTypeWorkshop), seat.WorkshopID).Scan(&capacity, &sold)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repo.ErrItemNotFound
			}
			return fmt.Errorf("lock workshop capacity: %w", err)
		}
		if capacity > 0 && sold >= capacity {
			return repo.ErrCapacityExhausted
		}

		if _, err := tx.Exec(txCtx, `
UPDATE catalog_items
SET sold = sold + 1, updated_at = NOW()
WHERE item_type = $1
  AND item_id = $2
`, string(enums.ItemTypeWorkshop), seat.WorkshopID); err != nil {
			return fmt.Errorf("increment workshop sold: %w", err)
		}

		out, err = scanWorkshopSeat(tx.QueryRow(txCtx, `
INSERT INTO workshop_seats (id, payment_record_id, purchaser_id, workshop_id, seat_number, reserved_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, payment_record_id, purchaser_id, workshop_id, seat_number, reserved_at
`, seat.ID, seat.PaymentRecordID, seat.PurchaserID, seat.WorkshopID, sold+1, seat.ReservedAt.UTC()))
		if err != nil {
			return fmt.Errorf("insert workshop seat: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.WorkshopSeat{}, err
	}
	return out, nil
}

func (r *FulfillmentRepo) BookService(ctx context.Context, booking model.ServiceBooking) (model.ServiceBooking, error) {
	if r.pool == nil {
		return model.ServiceBooking{}, fmt.Errorf("postgres pool is nil")
	}
	if booking.PaymentRecordID == "" || booking.ServiceID == "" {
		return model.ServiceBooking{}, fmt.Errorf("invalid service booking payload")
	}
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}

	var out model.ServiceBooking
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(txCtx, `
INSERT INTO service_bookings (id, payment_record_id, purchaser_id, service_id, contact_email, booked_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (payment_record_id) DO UPDATE
SET payment_record_id = service_bookings.payment_record_id
RETURNING id, payment_record_id, purchaser_id, service_id, contact_email, booked_at
`, booking.ID, booking.PaymentRecordID, booking.PurchaserID, booking.ServiceID, booking.ContactEmail, booking.BookedAt.UTC()).Scan(
			&out.ID,
			&out.PaymentRecordID,
			&out.PurchaserID,
			&out.ServiceID,
			&out.ContactEmail,
			&out.BookedAt,
		)
	})
	if err != nil {
		return model.ServiceBooking{}, fmt.Errorf("book service: %w", err)
	}
	return out, nil
}

func scanWorkshopSeat(row pgx.Row) (model.WorkshopSeat, error) {
	var seat model.WorkshopSeat
	err := row.Scan(
		&seat.ID,
		&seat.PaymentRecordID,
		&seat.PurchaserID,
		&seat.WorkshopID,
		&seat.SeatNumber,
		&seat.ReservedAt,
	)
	return seat, err
}
