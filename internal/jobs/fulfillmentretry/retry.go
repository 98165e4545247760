package fulfillmentretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/domain/model"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

type PendingRetrier interface {
	StalledOrders(ctx context.Context, minAge time.Duration, limit int) ([]model.PaymentRecord, error)
	RetryPending(ctx context.Context, orderID string) (paymentsvc.CompletionResult, error)
}

type Config struct {
	Interval time.Duration
	MinAge   time.Duration
	Batch    int
}

// Job re-drives paid orders whose fulfillment failed. Each pass only picks
// records untouched for MinAge so it does not race a buyer's own retry.
type Job struct {
	payments PendingRetrier
	cfg      Config
	logger   *zap.Logger
}

type Summary struct {
	Scanned   int
	Completed int
	Pending   int
	Failed    int
}

func New(payments PendingRetrier, cfg Config, logger *zap.Logger) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = 0
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{payments: payments, cfg: cfg, logger: logger}
}

func (j *Job) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if j.payments == nil {
		return summary, nil
	}

	records, err := j.payments.StalledOrders(ctx, j.cfg.MinAge, j.cfg.Batch)
	if err != nil {
		return summary, fmt.Errorf("list stalled orders: %w", err)
	}
	summary.Scanned = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, err := j.payments.RetryPending(ctx, rec.GatewayOrderID)
		switch {
		case err == nil:
			summary.Completed++
		case errors.Is(err, paymentsvc.ErrFulfillmentFailed), errors.Is(err, paymentsvc.ErrGatewayUnavailable):
			summary.Pending++
			j.logger.Warn("fulfillment retry still pending",
				zap.String("order_id", rec.GatewayOrderID),
				zap.Int("attempts", rec.Attempts+1),
				zap.Error(err),
			)
		default:
			summary.Failed++
			j.logger.Error("fulfillment retry failed",
				zap.String("order_id", rec.GatewayOrderID),
				zap.Error(err),
			)
		}
	}

	if summary.Scanned > 0 {
		j.logger.Info("fulfillment retry pass completed",
			zap.Int("scanned", summary.Scanned),
			zap.Int("completed", summary.Completed),
			zap.Int("pending", summary.Pending),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

// Loop runs a pass every Interval until ctx is cancelled.
func (j *Job) Loop(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Warn("fulfillment retry pass failed", zap.Error(err))
			}
		}
	}
}
