package model

import (
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
)

type ItemRef struct {
	Type enums.ItemType `json:"type"`
	ID   string         `json:"id"`
}

func (r ItemRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// PurchasableItem is a catalog snapshot. Capacity of zero means unlimited.
type PurchasableItem struct {
	Ref       ItemRef    `json:"ref"`
	Title     string     `json:"title"`
	Price     int64      `json:"price"`
	Currency  string     `json:"currency"`
	Available bool       `json:"available"`
	Capacity  int        `json:"capacity"`
	Sold      int        `json:"sold"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (i PurchasableItem) Purchasable(now time.Time) bool {
	if !i.Available {
		return false
	}
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	if i.Capacity > 0 && i.Sold >= i.Capacity {
		return false
	}
	return true
}
