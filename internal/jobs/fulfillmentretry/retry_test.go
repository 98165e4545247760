package fulfillmentretry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivankudzin/storefront/internal/domain/model"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

func TestRunRetriesEveryStalledOrder(t *testing.T) {
	fake := &fakeRetrier{
		stalled: []model.PaymentRecord{
			{GatewayOrderID: "order_ok"},
			{GatewayOrderID: "order_still_down"},
			{GatewayOrderID: "order_broken"},
		},
		outcomes: map[string]error{
			"order_still_down": paymentsvc.ErrFulfillmentFailed,
			"order_broken":     errors.New("boom"),
		},
	}

	job := New(fake, Config{MinAge: 2 * time.Minute, Batch: 10}, nil)
	summary, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run retry job: %v", err)
	}

	if summary.Scanned != 3 || summary.Completed != 1 || summary.Pending != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if fake.minAge != 2*time.Minute || fake.limit != 10 {
		t.Fatalf("job should pass its window through: min_age=%s limit=%d", fake.minAge, fake.limit)
	}
	if len(fake.retried) != 3 {
		t.Fatalf("expected every stalled order retried, got %v", fake.retried)
	}
}

func TestRunSurfacesListError(t *testing.T) {
	job := New(&fakeRetrier{listErr: errors.New("db down")}, Config{}, nil)
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	fake := &fakeRetrier{stalled: []model.PaymentRecord{{GatewayOrderID: "a"}, {GatewayOrderID: "b"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := New(fake, Config{}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.retried) != 0 || summary.Scanned != 2 {
		t.Fatalf("no retries expected after cancellation: %+v %v", summary, fake.retried)
	}
}

type fakeRetrier struct {
	stalled  []model.PaymentRecord
	listErr  error
	outcomes map[string]error
	retried  []string
	minAge   time.Duration
	limit    int
}

func (f *fakeRetrier) StalledOrders(_ context.Context, minAge time.Duration, limit int) ([]model.PaymentRecord, error) {
	f.minAge = minAge
	f.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.stalled, nil
}

func (f *fakeRetrier) RetryPending(_ context.Context, orderID string) (paymentsvc.CompletionResult, error) {
	f.retried = append(f.retried, orderID)
	return paymentsvc.CompletionResult{OrderID: orderID}, f.outcomes[orderID]
}
