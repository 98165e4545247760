package model

import "time"

type CourseGrant struct {
	ID              string    `json:"id"`
	PaymentRecordID string    `json:"payment_record_id"`
	PurchaserID     int64     `json:"purchaser_id"`
	CourseID        string    `json:"course_id"`
	GrantedAt       time.Time `json:"granted_at"`
}

type WorkshopSeat struct {
	ID              string    `json:"id"`
	PaymentRecordID string    `json:"payment_record_id"`
	PurchaserID     int64     `json:"purchaser_id"`
	WorkshopID      string    `json:"workshop_id"`
	SeatNumber      int       `json:"seat_number"`
	ReservedAt      time.Time `json:"reserved_at"`
}

type ServiceBooking struct {
	ID              string    `json:"id"`
	PaymentRecordID string    `json:"payment_record_id"`
	PurchaserID     int64     `json:"purchaser_id"`
	ServiceID       string    `json:"service_id"`
	ContactEmail    string    `json:"contact_email"`
	BookedAt        time.Time `json:"booked_at"`
}
