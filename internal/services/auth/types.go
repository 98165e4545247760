package auth

import (
	"errors"
	"time"
)

var ErrUnauthorized = errors.New("unauthorized")

type Identity struct {
	PurchaserID int64
	Email       string
	Role        string
	ExpiresAt   time.Time
}
