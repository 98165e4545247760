package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) Resolve(ctx context.Context, ref model.ItemRef) (model.PurchasableItem, error) {
	if r.pool == nil {
		return model.PurchasableItem{}, fmt.Errorf("postgres pool is nil")
	}

	item, err := scanCatalogItem(r.pool.QueryRow(ctx, `
SELECT item_type, item_id, title, price, currency, available, capacity, sold, expires_at
FROM catalog_items
WHERE item_type = $1
  AND item_id = $2
`, string(ref.Type), ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PurchasableItem{}, repo.ErrItemNotFound
		}
		return model.PurchasableItem{}, fmt.Errorf("resolve catalog item: %w", err)
	}
	return item, nil
}

// Upsert seeds or refreshes an item; the sold counter is left untouched on conflict.
func (r *CatalogRepo) Upsert(ctx context.Context, item model.PurchasableItem) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if !item.Ref.Type.Valid() || item.Ref.ID == "" {
		return fmt.Errorf("invalid catalog item payload")
	}

	_, err := r.pool.Exec(ctx, `
INSERT INTO catalog_items (item_type, item_id, title, price, currency, available, capacity, sold, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, NOW())
ON CONFLICT (item_type, item_id) DO UPDATE
SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	available = EXCLUDED.available,
	capacity = EXCLUDED.capacity,
	expires_at = EXCLUDED.expires_at,
	updated_at = NOW()
`, string(item.Ref.Type), item.Ref.ID, item.Title, item.Price, item.Currency, item.Available, item.Capacity, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

func scanCatalogItem(row pgx.Row) (model.PurchasableItem, error) {
	var (
		item     model.PurchasableItem
		itemType string
	)
	if err := row.Scan(
		&itemType,
		&item.Ref.ID,
		&item.Title,
		&item.Price,
		&item.Currency,
		&item.Available,
		&item.Capacity,
		&item.Sold,
		&item.ExpiresAt,
	); err != nil {
		return model.PurchasableItem{}, err
	}
	item.Ref.Type = enums.ItemType(itemType)
	return item, nil
}
