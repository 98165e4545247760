package botapp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/config"
	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	tginfra "github.com/ivankudzin/storefront/internal/infra/telegram"
	"github.com/ivankudzin/storefront/internal/repo/memory"
	"github.com/ivankudzin/storefront/internal/services/fulfillment"
	"github.com/ivankudzin/storefront/internal/services/gateway"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

const operatorChat int64 = -100500

type flakyBooking struct {
	store fulfillment.ServiceBookingStore
	fails int
}

func (f *flakyBooking) BookService(ctx context.Context, booking model.ServiceBooking) (model.ServiceBooking, error) {
	if f.fails > 0 {
		f.fails--
		return model.ServiceBooking{}, errors.New("calendar down")
	}
	return f.store.BookService(ctx, booking)
}

func newOperatorApp(t *testing.T) (*App, *paymentsvc.Service, *gateway.Sandbox) {
	t.Helper()

	ref := model.ItemRef{Type: enums.ItemTypeService, ID: "portfolio-review"}
	catalog := memory.NewCatalog(model.PurchasableItem{Ref: ref, Price: 250000, Currency: "INR", Available: true})
	ledger := memory.NewLedger(catalog)
	sandbox := gateway.NewSandbox("bot-secret")
	svc := paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog: catalog,
		Records: memory.NewPaymentRecordRepo(),
		Gateway: sandbox,
		Fulfiller: fulfillment.NewDispatcher(map[enums.ItemType]fulfillment.Handler{
			enums.ItemTypeService: fulfillment.NewServiceHandler(&flakyBooking{store: ledger, fails: 1}, "https://shop.example.com"),
		}, nil),
	}, paymentsvc.Config{GatewayTimeout: time.Second})

	cfg := config.Default()
	cfg.Bot.OperatorChatID = operatorChat
	return &App{cfg: cfg, logger: zap.NewNop(), payments: svc}, svc, sandbox
}

func command(name, args string) tginfra.CommandUpdate {
	return tginfra.CommandUpdate{ChatID: operatorChat, UserID: 1, Username: "ops", Command: name, Args: args}
}

func TestReplyRejectsForeignChat(t *testing.T) {
	app, _, _ := newOperatorApp(t)
	update := command("pending", "")
	update.ChatID = 42

	if got := app.reply(context.Background(), update); got != unauthorizedText {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestReplyUsageAndUnknownCommands(t *testing.T) {
	app, _, _ := newOperatorApp(t)
	ctx := context.Background()

	if got := app.reply(ctx, command("help", "")); got != helpText {
		t.Fatalf("unexpected help: %q", got)
	}
	if got := app.reply(ctx, command("retry", "")); !strings.HasPrefix(got, "usage:") {
		t.Fatalf("expected usage, got %q", got)
	}
	if got := app.reply(ctx, command("pending", "soon")); !strings.Contains(got, "duration") {
		t.Fatalf("expected duration hint, got %q", got)
	}
	if got := app.reply(ctx, command("dance", "")); got != "" {
		t.Fatalf("unknown commands should be ignored, got %q", got)
	}
	if got := app.reply(ctx, command("order", "order_missing")); got != "Order not found." {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestOperatorRetriesStalledOrder(t *testing.T) {
	app, svc, sandbox := newOperatorApp(t)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, paymentsvc.CreateOrderInput{
		Item:           model.ItemRef{Type: enums.ItemTypeService, ID: "portfolio-review"},
		PurchaserID:    9,
		PurchaserEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if got := app.reply(ctx, command("retry", order.OrderID)); got != "Order has no accepted payment yet." {
		t.Fatalf("unexpected reply before payment: %q", got)
	}

	_, err = svc.CompletePayment(ctx, model.VerificationProof{
		OrderID:   order.OrderID,
		PaymentID: "pay_bot",
		Signature: sandbox.SignProof(order.OrderID, "pay_bot", order.Amount, order.Currency),
	})
	if !errors.Is(err, paymentsvc.ErrFulfillmentFailed) {
		t.Fatalf("expected fulfillment failure, got %v", err)
	}

	pending := app.reply(ctx, command("pending", "0s"))
	if !strings.Contains(pending, order.OrderID) || !strings.Contains(pending, "calendar down") {
		t.Fatalf("pending list should show the stalled order: %q", pending)
	}

	if got := app.reply(ctx, command("retry", order.OrderID)); !strings.HasPrefix(got, "Order completed") {
		t.Fatalf("unexpected retry reply: %q", got)
	}
	if got := app.reply(ctx, command("retry", order.OrderID)); got != "Order was already completed." {
		t.Fatalf("unexpected second retry reply: %q", got)
	}

	status := app.reply(ctx, command("order", order.OrderID))
	if !strings.Contains(status, "Status: completed") || !strings.Contains(status, "Reference: ") {
		t.Fatalf("unexpected order status: %q", status)
	}
	if got := app.reply(ctx, command("pending", "0s")); got != noPendingText {
		t.Fatalf("expected no stalled orders, got %q", got)
	}
}
