package apiapp

import (
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/metrics"
	authsvc "github.com/ivankudzin/storefront/internal/services/auth"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
	"github.com/ivankudzin/storefront/internal/transport/http/handlers"
)

type Dependencies struct {
	PaymentService *paymentsvc.Service
	Tokens         *authsvc.JWTManager
	Receipts       handlers.ReceiptLinker
	Config         RoutesConfig
	Logger         *zap.Logger
}

type RoutesConfig struct {
	ReceiptLinkTTL time.Duration
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	checkoutHandler := handlers.NewCheckoutHandler(deps.PaymentService, deps.Logger)
	if deps.Receipts != nil {
		checkoutHandler.AttachReceipts(deps.Receipts, deps.Config.ReceiptLinkTTL)
	}
	authMW := AuthMiddleware(deps.Tokens, deps.Logger)
	operatorRoleMW := RequireRole("OPERATOR", "OWNER")

	r.Get("/healthz", healthHandler.Handle)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/checkout", func(r chi.Router) {
		r.With(authMW).Post("/orders", checkoutHandler.CreateOrder)
		r.With(authMW).Get("/orders/{orderID}", checkoutHandler.OrderStatus)
		r.With(authMW).Get("/orders/{orderID}/receipt", checkoutHandler.Receipt)
		r.Post("/complete", checkoutHandler.Complete)
		r.Post("/webhook", checkoutHandler.Webhook)
	})

	r.Route("/v1/admin/orders", func(r chi.Router) {
		r.Use(authMW, operatorRoleMW)
		r.Get("/stalled", checkoutHandler.StalledOrders)
		r.Post("/{orderID}/retry", checkoutHandler.RetryOrder)
	})
}
