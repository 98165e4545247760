package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

func TestPaymentRecordRepoRejectsDuplicateOrder(t *testing.T) {
	records := NewPaymentRecordRepo()
	ctx := context.Background()

	rec := pendingRecord("rec-1", "order_1", 7, time.Now())
	if err := records.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := records.Create(ctx, rec); !errors.Is(err, repo.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	if _, err := records.FindByOrderID(ctx, "order_missing"); !errors.Is(err, repo.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestPaymentRecordRepoUpdateSavesEvenWithError(t *testing.T) {
	records := NewPaymentRecordRepo()
	ctx := context.Background()
	_ = records.Create(ctx, pendingRecord("rec-1", "order_1", 7, time.Now()))

	boom := errors.New("handler failed")
	got, err := records.Update(ctx, "order_1", func(_ context.Context, cur model.PaymentRecord) (model.PaymentRecord, bool, error) {
		msg := boom.Error()
		cur.LastError = &msg
		cur.Attempts++
		return cur, true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if got.Attempts != 1 || got.LastError == nil {
		t.Fatalf("expected saved record, got %+v", got)
	}

	_, err = records.Update(ctx, "order_1", func(_ context.Context, cur model.PaymentRecord) (model.PaymentRecord, bool, error) {
		cur.Attempts = 99
		return cur, false, nil
	})
	if err != nil {
		t.Fatalf("update without save: %v", err)
	}
	stored, _ := records.FindByOrderID(ctx, "order_1")
	if stored.Attempts != 1 {
		t.Fatalf("unsaved change leaked: attempts=%d", stored.Attempts)
	}
}

func TestPaymentRecordRepoUpdateSerializesPerOrder(t *testing.T) {
	records := NewPaymentRecordRepo()
	ctx := context.Background()
	_ = records.Create(ctx, pendingRecord("rec-1", "order_1", 7, time.Now()))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = records.Update(ctx, "order_1", func(_ context.Context, cur model.PaymentRecord) (model.PaymentRecord, bool, error) {
				if cur.Status != enums.PaymentStatusPending {
					return cur, false, nil
				}
				mu.Lock()
				winners++
				mu.Unlock()
				cur.Status = enums.PaymentStatusCompleted
				return cur, true, nil
			})
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one transition, got %d", winners)
	}
}

func TestPaymentRecordRepoQueries(t *testing.T) {
	records := NewPaymentRecordRepo()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := pendingRecord("rec-old", "order_old", 7, now.Add(-time.Hour))
	pid, sig := "pay_1", "sig"
	old.GatewayPaymentID, old.Signature = &pid, &sig
	fresh := pendingRecord("rec-fresh", "order_fresh", 7, now)
	fresh.GatewayPaymentID, fresh.Signature = &pid, &sig
	noProof := pendingRecord("rec-noproof", "order_noproof", 8, now.Add(-time.Hour))
	done := pendingRecord("rec-done", "order_done", 8, now.Add(-2*time.Hour))
	done.Status = enums.PaymentStatusCompleted

	for _, rec := range []model.PaymentRecord{old, fresh, noProof, done} {
		if err := records.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
	}

	stalled, err := records.ListStalled(ctx, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list stalled: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ID != "rec-old" {
		t.Fatalf("unexpected stalled set: %+v", stalled)
	}

	ok, err := records.HasCompletedPurchase(ctx, 8, done.Item)
	if err != nil || !ok {
		t.Fatalf("expected completed purchase for purchaser 8: ok=%v err=%v", ok, err)
	}
	ok, _ = records.HasCompletedPurchase(ctx, 7, done.Item)
	if ok {
		t.Fatalf("purchaser 7 has no completed purchase")
	}

	mine, _ := records.ListByPurchaser(ctx, 7, 0)
	if len(mine) != 2 || mine[0].ID != "rec-fresh" {
		t.Fatalf("unexpected purchaser listing: %+v", mine)
	}
}

func TestLedgerIsIdempotentPerRecordAndEnforcesCapacity(t *testing.T) {
	ref := model.ItemRef{Type: enums.ItemTypeWorkshop, ID: "ws-1"}
	catalog := NewCatalog(model.PurchasableItem{Ref: ref, Price: 1000, Currency: "INR", Available: true, Capacity: 1})
	ledger := NewLedger(catalog)
	ctx := context.Background()

	first, err := ledger.ReserveSeat(ctx, model.WorkshopSeat{PaymentRecordID: "rec-1", WorkshopID: "ws-1"})
	if err != nil {
		t.Fatalf("reserve seat: %v", err)
	}
	again, err := ledger.ReserveSeat(ctx, model.WorkshopSeat{PaymentRecordID: "rec-1", WorkshopID: "ws-1"})
	if err != nil || again.ID != first.ID || again.SeatNumber != 1 {
		t.Fatalf("repeat reservation should return the same seat: %+v err=%v", again, err)
	}

	if _, err := ledger.ReserveSeat(ctx, model.WorkshopSeat{PaymentRecordID: "rec-2", WorkshopID: "ws-1"}); !errors.Is(err, repo.ErrCapacityExhausted) {
		t.Fatalf("expected ErrCapacityExhausted, got %v", err)
	}

	item, _ := catalog.Resolve(ctx, ref)
	if item.Sold != 1 || item.Purchasable(time.Now()) {
		t.Fatalf("catalog should be sold out: %+v", item)
	}

	grant, _ := ledger.GrantCourseAccess(ctx, model.CourseGrant{PaymentRecordID: "rec-3", CourseID: "c", PurchaserID: 3})
	grantAgain, _ := ledger.GrantCourseAccess(ctx, model.CourseGrant{PaymentRecordID: "rec-3", CourseID: "c", PurchaserID: 3})
	if grant.ID == "" || grant.ID != grantAgain.ID {
		t.Fatalf("course grant should be idempotent: %s vs %s", grant.ID, grantAgain.ID)
	}
	if len(ledger.CourseGrants(3)) != 1 {
		t.Fatalf("expected one course grant for purchaser 3")
	}

	courses, workshops, services := ledger.Counts()
	if courses != 1 || workshops != 1 || services != 0 {
		t.Fatalf("unexpected ledger counts: %d %d %d", courses, workshops, services)
	}
}

func pendingRecord(id, orderID string, purchaserID int64, at time.Time) model.PaymentRecord {
	return model.PaymentRecord{
		ID:             id,
		Gateway:        "sandbox",
		GatewayOrderID: orderID,
		Item:           model.ItemRef{Type: enums.ItemTypeCourse, ID: "go-masterclass"},
		PurchaserID:    purchaserID,
		PurchaserEmail: "buyer@example.com",
		Amount:         499900,
		Currency:       "INR",
		Status:         enums.PaymentStatusPending,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}
