package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

type recordEntry struct {
	mu  sync.Mutex
	rec model.PaymentRecord
}

// PaymentRecordRepo keeps records in process memory with one lock per gateway order.
type PaymentRecordRepo struct {
	mu      sync.RWMutex
	byOrder map[string]*recordEntry
}

func NewPaymentRecordRepo() *PaymentRecordRepo {
	return &PaymentRecordRepo{byOrder: make(map[string]*recordEntry)}
}

func (r *PaymentRecordRepo) Create(_ context.Context, rec model.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[rec.GatewayOrderID]; exists {
		return repo.ErrDuplicateOrder
	}
	r.byOrder[rec.GatewayOrderID] = &recordEntry{rec: rec}
	return nil
}

func (r *PaymentRecordRepo) FindByOrderID(_ context.Context, orderID string) (model.PaymentRecord, error) {
	entry, ok := r.entry(orderID)
	if !ok {
		return model.PaymentRecord{}, repo.ErrRecordNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.rec, nil
}

func (r *PaymentRecordRepo) FindByID(_ context.Context, id string) (model.PaymentRecord, error) {
	for _, rec := range r.snapshot() {
		if rec.ID == id {
			return rec, nil
		}
	}
	return model.PaymentRecord{}, repo.ErrRecordNotFound
}

func (r *PaymentRecordRepo) HasCompletedPurchase(_ context.Context, purchaserID int64, item model.ItemRef) (bool, error) {
	for _, rec := range r.snapshot() {
		if rec.PurchaserID == purchaserID && rec.Item == item && rec.Status == enums.PaymentStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *PaymentRecordRepo) Update(ctx context.Context, orderID string, fn repo.UpdateFunc) (model.PaymentRecord, error) {
	entry, ok := r.entry(orderID)
	if !ok {
		return model.PaymentRecord{}, repo.ErrRecordNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next, save, err := fn(ctx, entry.rec)
	if save {
		entry.rec = next
	}
	return entry.rec, err
}

func (r *PaymentRecordRepo) ListStalled(_ context.Context, olderThan time.Time, limit int) ([]model.PaymentRecord, error) {
	out := make([]model.PaymentRecord, 0)
	for _, rec := range r.snapshot() {
		if rec.Status != enums.PaymentStatusPending || !rec.UpdatedAt.Before(olderThan) {
			continue
		}
		if _, ok := rec.StoredProof(); !ok {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRecordRepo) ListByPurchaser(_ context.Context, purchaserID int64, limit int) ([]model.PaymentRecord, error) {
	out := make([]model.PaymentRecord, 0)
	for _, rec := range r.snapshot() {
		if rec.PurchaserID == purchaserID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRecordRepo) entry(orderID string) (*recordEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byOrder[orderID]
	return entry, ok
}

func (r *PaymentRecordRepo) snapshot() []model.PaymentRecord {
	r.mu.RLock()
	entries := make([]*recordEntry, 0, len(r.byOrder))
	for _, entry := range r.byOrder {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	out := make([]model.PaymentRecord, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.rec)
		entry.mu.Unlock()
	}
	return out
}
