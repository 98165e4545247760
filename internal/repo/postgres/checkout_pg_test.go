package postgres_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo/postgres"
	"github.com/ivankudzin/storefront/internal/services/fulfillment"
	"github.com/ivankudzin/storefront/internal/services/gateway"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

// Set STOREFRONT_TEST_POSTGRES_DSN to a disposable database to run these tests.
// Every test truncates the checkout tables.
const testDSNEnv = "STOREFRONT_TEST_POSTGRES_DSN"

var (
	pgCourse   = model.ItemRef{Type: enums.ItemTypeCourse, ID: "go-masterclass"}
	pgWorkshop = model.ItemRef{Type: enums.ItemTypeWorkshop, ID: "pricing-workshop"}
	pgService  = model.ItemRef{Type: enums.ItemTypeService, ID: "portfolio-review"}
	pgItems    = []model.ItemRef{pgCourse, pgWorkshop, pgService}
)

type flakyFulfiller struct {
	next     paymentsvc.Fulfiller
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyFulfiller) Dispatch(ctx context.Context, rec model.PaymentRecord) (model.FulfillmentResult, error) {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return model.FulfillmentResult{}, errors.New("ledger temporarily unavailable")
	}
	return f.next.Dispatch(ctx, rec)
}

type pgCheckout struct {
	pool      *pgxpool.Pool
	catalog   *postgres.CatalogRepo
	records   *postgres.PaymentRecordRepo
	sandbox   *gateway.Sandbox
	fulfiller *flakyFulfiller
	svc       *paymentsvc.Service
}

func newPGCheckout(t *testing.T) *pgCheckout {
	t.Helper()

	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "001_checkout.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE course_access, workshop_seats, service_bookings, payment_records, catalog_items`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	f := &pgCheckout{
		pool:    pool,
		catalog: postgres.NewCatalogRepo(pool),
		records: postgres.NewPaymentRecordRepo(pool),
		sandbox: gateway.NewSandbox("pg-secret", gateway.WithOrderPrefix("order_pg_")),
	}
	for _, item := range []model.PurchasableItem{
		{Ref: pgCourse, Title: "Go Masterclass", Price: 499900, Currency: "INR", Available: true},
		{Ref: pgWorkshop, Title: "Pricing Workshop", Price: 150000, Currency: "INR", Available: true, Capacity: 50},
		{Ref: pgService, Title: "Portfolio Review", Price: 250000, Currency: "INR", Available: true},
	} {
		if err := f.catalog.Upsert(ctx, item); err != nil {
			t.Fatalf("seed %s: %v", item.Ref, err)
		}
	}

	ledger := postgres.NewFulfillmentRepo(pool)
	f.fulfiller = &flakyFulfiller{next: fulfillment.NewDispatcher(map[enums.ItemType]fulfillment.Handler{
		enums.ItemTypeCourse:   fulfillment.NewCourseHandler(ledger, "https://shop.example.com"),
		enums.ItemTypeWorkshop: fulfillment.NewWorkshopHandler(ledger, "https://shop.example.com"),
		enums.ItemTypeService:  fulfillment.NewServiceHandler(ledger, "https://shop.example.com"),
	}, nil)}

	f.svc = paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog:   f.catalog,
		Records:   f.records,
		Gateway:   f.sandbox,
		Fulfiller: f.fulfiller,
	}, paymentsvc.Config{GatewayTimeout: 2 * time.Second, CompletionTimeout: 10 * time.Second})
	return f
}

func (f *pgCheckout) order(t *testing.T, ref model.ItemRef, purchaserID int64) (paymentsvc.CreateOrderResult, model.VerificationProof) {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), paymentsvc.CreateOrderInput{
		Item:           ref,
		PurchaserID:    purchaserID,
		PurchaserEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("create %s order: %v", ref, err)
	}
	paymentID := "pay_" + order.RecordID[:8]
	return order, model.VerificationProof{
		OrderID:   order.OrderID,
		PaymentID: paymentID,
		Signature: f.sandbox.SignProof(order.OrderID, paymentID, order.Amount, order.Currency),
	}
}

func (f *pgCheckout) ledgerRows(t *testing.T, recordID string) int {
	t.Helper()
	var n int
	err := f.pool.QueryRow(context.Background(), `
SELECT
	(SELECT COUNT(*) FROM course_access WHERE payment_record_id = $1) +
	(SELECT COUNT(*) FROM workshop_seats WHERE payment_record_id = $1) +
	(SELECT COUNT(*) FROM service_bookings WHERE payment_record_id = $1)
`, recordID).Scan(&n)
	if err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	return n
}

func TestPostgresCheckoutCompletesEveryItemType(t *testing.T) {
	f := newPGCheckout(t)
	ctx := context.Background()

	for i, ref := range pgItems {
		order, proof := f.order(t, ref, int64(100+i))

		first, err := f.svc.CompletePayment(ctx, proof)
		if err != nil {
			t.Fatalf("%s: complete: %v", ref, err)
		}
		if first.Status != enums.PaymentStatusCompleted || first.Fulfillment == nil || first.Fulfillment.Reference == "" {
			t.Fatalf("%s: unexpected result: %+v", ref, first)
		}

		replay, err := f.svc.CompletePayment(ctx, proof)
		if err != nil || !replay.AlreadyProcessed || replay.Fulfillment.Reference != first.Fulfillment.Reference {
			t.Fatalf("%s: replay mismatch: %+v err=%v", ref, replay, err)
		}

		stored, err := f.records.FindByOrderID(ctx, order.OrderID)
		if err != nil {
			t.Fatalf("%s: reload: %v", ref, err)
		}
		if stored.Status != enums.PaymentStatusCompleted || stored.CompletedAt == nil || stored.Attempts != 1 {
			t.Fatalf("%s: stored record not completed: %+v", ref, stored)
		}
		if got := f.ledgerRows(t, order.RecordID); got != 1 {
			t.Fatalf("%s: ledger rows got %d want 1", ref, got)
		}
	}
}

func TestPostgresConcurrentCompletionsHaveOneWinner(t *testing.T) {
	f := newPGCheckout(t)
	ctx := context.Background()

	for i, ref := range pgItems {
		order, proof := f.order(t, ref, int64(200+i))

		const callers = 8
		var (
			wg     sync.WaitGroup
			fresh  atomic.Int32
			failed atomic.Int32
		)
		for n := 0; n < callers; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.svc.CompletePayment(ctx, proof)
				if err != nil || res.Status != enums.PaymentStatusCompleted {
					failed.Add(1)
					return
				}
				if !res.AlreadyProcessed {
					fresh.Add(1)
				}
			}()
		}
		wg.Wait()

		if failed.Load() != 0 {
			t.Fatalf("%s: %d callers did not see a completed order", ref, failed.Load())
		}
		if fresh.Load() != 1 {
			t.Fatalf("%s: fresh completions got %d want 1", ref, fresh.Load())
		}
		if got := f.ledgerRows(t, order.RecordID); got != 1 {
			t.Fatalf("%s: ledger rows got %d want 1", ref, got)
		}
	}
	if calls := f.fulfiller.calls.Load(); calls != int32(len(pgItems)) {
		t.Fatalf("dispatch calls got %d want %d", calls, len(pgItems))
	}
}

func TestPostgresFulfillmentFailureKeepsProofForRetry(t *testing.T) {
	f := newPGCheckout(t)
	ctx := context.Background()

	for i, ref := range pgItems {
		order, proof := f.order(t, ref, int64(300+i))

		f.fulfiller.failures.Store(1)
		res, err := f.svc.CompletePayment(ctx, proof)
		if !errors.Is(err, paymentsvc.ErrFulfillmentFailed) {
			t.Fatalf("%s: expected fulfillment failure, got %v", ref, err)
		}
		if res.Status != enums.PaymentStatusPending {
			t.Fatalf("%s: status got %s want pending", ref, res.Status)
		}

		stored, err := f.records.FindByOrderID(ctx, order.OrderID)
		if err != nil {
			t.Fatalf("%s: reload: %v", ref, err)
		}
		if _, ok := stored.StoredProof(); !ok || stored.LastError == nil || stored.Attempts != 1 {
			t.Fatalf("%s: failure not persisted: %+v", ref, stored)
		}

		stalled, err := f.svc.StalledOrders(ctx, -time.Minute, 10)
		if err != nil {
			t.Fatalf("%s: stalled: %v", ref, err)
		}
		found := false
		for _, rec := range stalled {
			found = found || rec.GatewayOrderID == order.OrderID
		}
		if !found {
			t.Fatalf("%s: order missing from stalled list", ref)
		}

		retried, err := f.svc.RetryPending(ctx, order.OrderID)
		if err != nil || retried.Status != enums.PaymentStatusCompleted {
			t.Fatalf("%s: retry: %+v err=%v", ref, retried, err)
		}
		if got := f.ledgerRows(t, order.RecordID); got != 1 {
			t.Fatalf("%s: ledger rows got %d want 1", ref, got)
		}
	}
}

func TestPostgresWorkshopCapacityFailureLeavesRecordPending(t *testing.T) {
	f := newPGCheckout(t)
	ctx := context.Background()

	tiny := model.ItemRef{Type: enums.ItemTypeWorkshop, ID: "tiny-workshop"}
	seed := model.PurchasableItem{Ref: tiny, Title: "Tiny Workshop", Price: 90000, Currency: "INR", Available: true, Capacity: 1}
	if err := f.catalog.Upsert(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, firstProof := f.order(t, tiny, 401)
	late, lateProof := f.order(t, tiny, 402)

	if _, err := f.svc.CompletePayment(ctx, firstProof); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if _, err := f.svc.CompletePayment(ctx, lateProof); !errors.Is(err, paymentsvc.ErrFulfillmentFailed) {
		t.Fatalf("expected capacity failure, got %v", err)
	}

	stored, err := f.records.FindByOrderID(ctx, late.OrderID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != enums.PaymentStatusPending || stored.LastError == nil {
		t.Fatalf("capacity failure not persisted: %+v", stored)
	}
	if got := f.ledgerRows(t, late.RecordID); got != 0 {
		t.Fatalf("ledger rows got %d want 0", got)
	}

	seed.Capacity = 2
	if err := f.catalog.Upsert(ctx, seed); err != nil {
		t.Fatalf("raise capacity: %v", err)
	}
	retried, err := f.svc.RetryPending(ctx, late.OrderID)
	if err != nil || retried.Status != enums.PaymentStatusCompleted {
		t.Fatalf("retry after capacity raise: %+v err=%v", retried, err)
	}
}
