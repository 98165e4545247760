package memory

import (
	"context"
	"sync"

	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

type Catalog struct {
	mu    sync.RWMutex
	items map[model.ItemRef]model.PurchasableItem
}

func NewCatalog(items ...model.PurchasableItem) *Catalog {
	c := &Catalog{items: make(map[model.ItemRef]model.PurchasableItem, len(items))}
	for _, item := range items {
		c.items[item.Ref] = item
	}
	return c
}

func (c *Catalog) Put(item model.PurchasableItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.Ref] = item
}

func (c *Catalog) Resolve(_ context.Context, ref model.ItemRef) (model.PurchasableItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[ref]
	if !ok {
		return model.PurchasableItem{}, repo.ErrItemNotFound
	}
	return item, nil
}

// claim takes one unit of capacity. Capacity of zero never runs out.
func (c *Catalog) claim(ref model.ItemRef) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[ref]
	if !ok {
		return 0, repo.ErrItemNotFound
	}
	if item.Capacity > 0 && item.Sold >= item.Capacity {
		return 0, repo.ErrCapacityExhausted
	}
	item.Sold++
	c.items[ref] = item
	return item.Sold, nil
}
