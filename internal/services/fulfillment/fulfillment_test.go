package fulfillment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
	"github.com/ivankudzin/storefront/internal/repo/memory"
)

func TestDispatcherRoutesByItemType(t *testing.T) {
	calls := map[enums.ItemType]int{}
	handler := func(itemType enums.ItemType) Handler {
		return HandlerFunc(func(context.Context, model.PaymentRecord) (model.FulfillmentResult, error) {
			calls[itemType]++
			return model.FulfillmentResult{Reference: string(itemType)}, nil
		})
	}
	d := NewDispatcher(map[enums.ItemType]Handler{
		enums.ItemTypeCourse:   handler(enums.ItemTypeCourse),
		enums.ItemTypeWorkshop: handler(enums.ItemTypeWorkshop),
	}, nil)

	result, err := d.Dispatch(context.Background(), paidRecord(enums.ItemTypeWorkshop, "ws-1"))
	if err != nil {
		t.Fatalf("dispatch workshop: %v", err)
	}
	if result.Reference != "workshop" || result.ItemType != enums.ItemTypeWorkshop || result.FulfilledAt.IsZero() {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls[enums.ItemTypeWorkshop] != 1 || calls[enums.ItemTypeCourse] != 0 {
		t.Fatalf("unexpected handler calls: %v", calls)
	}

	if _, err := d.Dispatch(context.Background(), paidRecord(enums.ItemTypeService, "svc-1")); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	if _, err := d.Dispatch(context.Background(), model.PaymentRecord{}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestCourseHandlerBuildsAccessURLAndIsIdempotent(t *testing.T) {
	ledger := memory.NewLedger(nil)
	h := NewCourseHandler(ledger, "https://shop.example.com/")
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec := paidRecord(enums.ItemTypeCourse, "go-masterclass")
	first, err := h.Fulfill(context.Background(), rec)
	if err != nil {
		t.Fatalf("fulfill course: %v", err)
	}
	if !strings.HasPrefix(first.AccessURL, "https://shop.example.com/courses/go-masterclass/learn?grant=") {
		t.Fatalf("unexpected access url: %s", first.AccessURL)
	}

	second, err := h.Fulfill(context.Background(), rec)
	if err != nil {
		t.Fatalf("second fulfill: %v", err)
	}
	if first != second {
		t.Fatalf("second call should return the same grant: %+v vs %+v", first, second)
	}
	if courses, _, _ := ledger.Counts(); courses != 1 {
		t.Fatalf("expected one course grant, got %d", courses)
	}
}

func TestWorkshopHandlerFailsWhenFull(t *testing.T) {
	ref := model.ItemRef{Type: enums.ItemTypeWorkshop, ID: "ws-1"}
	catalog := memory.NewCatalog(model.PurchasableItem{Ref: ref, Price: 1000, Currency: "INR", Available: true, Capacity: 1})
	h := NewWorkshopHandler(memory.NewLedger(catalog), "https://shop.example.com")

	first := paidRecord(enums.ItemTypeWorkshop, "ws-1")
	result, err := h.Fulfill(context.Background(), first)
	if err != nil {
		t.Fatalf("first seat: %v", err)
	}
	if !strings.Contains(result.AccessURL, "/workshops/ws-1/registration/") {
		t.Fatalf("unexpected registration url: %s", result.AccessURL)
	}

	second := paidRecord(enums.ItemTypeWorkshop, "ws-1")
	second.ID = "rec-2"
	if _, err := h.Fulfill(context.Background(), second); !errors.Is(err, repo.ErrCapacityExhausted) {
		t.Fatalf("expected ErrCapacityExhausted, got %v", err)
	}
}

func TestServiceHandlerBooksWithPurchaserEmail(t *testing.T) {
	ledger := memory.NewLedger(nil)
	h := NewServiceHandler(ledger, "https://shop.example.com")

	result, err := h.Fulfill(context.Background(), paidRecord(enums.ItemTypeService, "portfolio-review"))
	if err != nil {
		t.Fatalf("fulfill service: %v", err)
	}
	if result.Reference == "" || !strings.Contains(result.AccessURL, "/services/portfolio-review/booking/") {
		t.Fatalf("unexpected booking result: %+v", result)
	}
	if _, _, services := ledger.Counts(); services != 1 {
		t.Fatalf("expected one booking, got %d", services)
	}
}

func paidRecord(itemType enums.ItemType, itemID string) model.PaymentRecord {
	return model.PaymentRecord{
		ID:             "rec-1",
		GatewayOrderID: "order_1",
		Item:           model.ItemRef{Type: itemType, ID: itemID},
		PurchaserID:    9,
		PurchaserEmail: "buyer@example.com",
		Amount:         1000,
		Currency:       "INR",
		Status:         enums.PaymentStatusPending,
	}
}
