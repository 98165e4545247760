package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/app/bootstrap"
	"github.com/ivankudzin/storefront/internal/config"
	"github.com/ivankudzin/storefront/internal/jobs/fulfillmentretry"
	authsvc "github.com/ivankudzin/storefront/internal/services/auth"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	checkout   *bootstrap.Checkout
	retryJob   *fulfillmentretry.Job
	httpRouter http.Handler

	jobCtx    context.Context
	jobCancel context.CancelFunc
	jobDone   sync.WaitGroup
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	checkout, err := bootstrap.NewCheckout(ctx, cfg, bootstrap.Options{}, log)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		PaymentService: checkout.Payments,
		Tokens:         authsvc.NewJWTManager(cfg.Auth.JWTSecret, 0),
		Config:         RoutesConfig{ReceiptLinkTTL: cfg.Checkout.ReceiptLinkTTL},
		Logger:         log,
	}
	if checkout.Receipts != nil {
		deps.Receipts = checkout.Receipts
	}
	RegisterRoutes(r, deps)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	return &App{
		cfg:      cfg,
		logger:   log,
		server:   server,
		checkout: checkout,
		retryJob: fulfillmentretry.New(checkout.Payments, fulfillmentretry.Config{
			Interval: cfg.Jobs.RetryInterval,
			MinAge:   cfg.Jobs.RetryMinAge,
			Batch:    cfg.Jobs.RetryBatch,
		}, log.Named("fulfillment_retry")),
		httpRouter: r,
		jobCtx:     jobCtx,
		jobCancel:  jobCancel,
	}, nil
}

func (a *App) Run() error {
	a.jobDone.Add(1)
	go func() {
		defer a.jobDone.Done()
		a.retryJob.Loop(a.jobCtx)
	}()

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	a.jobCancel()
	a.jobDone.Wait()

	a.checkout.Drain(ctx)
	if err := a.checkout.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// Payments exposes the wired service for in-process callers such as smoke tests.
func (a *App) Payments() *paymentsvc.Service {
	return a.checkout.Payments
}
