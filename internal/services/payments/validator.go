package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/pkg/validate"
	"github.com/ivankudzin/storefront/internal/repo"
)

type ItemCatalog interface {
	Resolve(ctx context.Context, ref model.ItemRef) (model.PurchasableItem, error)
}

type PurchaseHistory interface {
	HasCompletedPurchase(ctx context.Context, purchaserID int64, item model.ItemRef) (bool, error)
}

type Request struct {
	Item             model.ItemRef
	PurchaserID      int64
	PurchaserEmail   string
	DeclaredAmount   *int64
	DeclaredCurrency string
}

// Validator runs the pre-flight checks for a purchase. It never writes anything.
type Validator struct {
	catalog ItemCatalog
	history PurchaseHistory
	now     func() time.Time
}

func NewValidator(catalog ItemCatalog, history PurchaseHistory) *Validator {
	return &Validator{catalog: catalog, history: history, now: time.Now}
}

// Validate returns the catalog snapshot the order must be priced from. Rejections
// are *RejectionError; infrastructure problems wrap ErrCatalogUnavailable.
func (v *Validator) Validate(ctx context.Context, req Request) (model.PurchasableItem, error) {
	if !req.Item.Type.Valid() ||
		!validate.Required(req.Item.ID) ||
		req.PurchaserID <= 0 ||
		!validate.Email(req.PurchaserEmail) {
		return model.PurchasableItem{}, reject(enums.RejectReasonInvalidRequest)
	}
	if req.DeclaredCurrency != "" && !validate.Currency(strings.ToUpper(strings.TrimSpace(req.DeclaredCurrency))) {
		return model.PurchasableItem{}, reject(enums.RejectReasonInvalidRequest)
	}

	item, err := v.catalog.Resolve(ctx, req.Item)
	if errors.Is(err, repo.ErrItemNotFound) {
		return model.PurchasableItem{}, reject(enums.RejectReasonItemNotFound)
	}
	if err != nil {
		return model.PurchasableItem{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if !item.Purchasable(v.now()) {
		return model.PurchasableItem{}, reject(enums.RejectReasonItemUnavailable)
	}

	purchased, err := v.history.HasCompletedPurchase(ctx, req.PurchaserID, req.Item)
	if err != nil {
		return model.PurchasableItem{}, fmt.Errorf("%w: purchase history: %v", ErrCatalogUnavailable, err)
	}
	if purchased {
		return model.PurchasableItem{}, reject(enums.RejectReasonAlreadyPurchased)
	}

	if req.DeclaredAmount != nil && *req.DeclaredAmount != item.Price {
		return model.PurchasableItem{}, reject(enums.RejectReasonAmountMismatch)
	}
	if req.DeclaredCurrency != "" && !strings.EqualFold(strings.TrimSpace(req.DeclaredCurrency), item.Currency) {
		return model.PurchasableItem{}, reject(enums.RejectReasonCurrencyMismatch)
	}

	return item, nil
}
