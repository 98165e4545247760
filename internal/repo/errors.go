package repo

import (
	"context"
	"errors"

	"github.com/ivankudzin/storefront/internal/domain/model"
)

var (
	ErrItemNotFound      = errors.New("catalog item not found")
	ErrRecordNotFound    = errors.New("payment record not found")
	ErrDuplicateOrder    = errors.New("payment record for gateway order already exists")
	ErrCapacityExhausted = errors.New("item capacity exhausted")
)

// UpdateFunc runs while the record is locked. When save is true next is persisted
// before the lock is released, regardless of err.
type UpdateFunc func(ctx context.Context, current model.PaymentRecord) (next model.PaymentRecord, save bool, err error)
