package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/app/bootstrap"
	"github.com/ivankudzin/storefront/internal/config"
	"github.com/ivankudzin/storefront/internal/domain/model"
	tginfra "github.com/ivankudzin/storefront/internal/infra/telegram"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
)

const (
	helpText         = "Commands:\n/pending [min_age] - paid orders waiting for fulfillment\n/order <order_id> - order status\n/retry <order_id> - retry fulfillment"
	noPendingText    = "No stalled orders."
	unauthorizedText = "This chat is not allowed to operate checkout."
	pendingListLimit = 20
)

type operatorPayments interface {
	OrderStatus(ctx context.Context, orderID string, purchaserID int64) (model.PaymentRecord, error)
	StalledOrders(ctx context.Context, minAge time.Duration, limit int) ([]model.PaymentRecord, error)
	RetryPending(ctx context.Context, orderID string) (paymentsvc.CompletionResult, error)
}

// App is the operator bot: it answers checkout commands from the operator chat
// and relays outcome notifications there.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	bot      *tginfra.Bot
	checkout *bootstrap.Checkout
	payments operatorPayments
	minAge   time.Duration
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if strings.TrimSpace(cfg.Bot.Token) == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	bot, err := tginfra.NewBot(cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	checkout, err := bootstrap.NewCheckout(ctx, cfg, bootstrap.Options{
		Telegram:              bot,
		RequireDurableStorage: true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init checkout for bot app: %w", err)
	}
	if cfg.Bot.OperatorChatID == 0 {
		logger.Warn("BOT_OPERATOR_CHAT_ID is empty, commands are accepted from any chat")
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		bot:      bot,
		checkout: checkout,
		payments: checkout.Payments,
		minAge:   cfg.Jobs.RetryMinAge,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")
	err := a.bot.Listen(ctx, tginfra.Handlers{OnCommand: a.handleCommand})
	a.logger.Info("bot app stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	text := a.reply(ctx, update)
	if text == "" {
		return nil
	}
	if err := a.bot.SendText(ctx, update.ChatID, text); err != nil {
		// a failed reply must not stop the listener
		a.logger.Warn("send bot reply failed", zap.Int64("chat_id", update.ChatID), zap.Error(err))
	}
	return nil
}

func (a *App) reply(ctx context.Context, update tginfra.CommandUpdate) string {
	if a.cfg.Bot.OperatorChatID != 0 && update.ChatID != a.cfg.Bot.OperatorChatID {
		return unauthorizedText
	}

	args := strings.Fields(update.Args)
	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start", "help":
		return helpText
	case "pending":
		minAge := a.minAge
		if len(args) > 0 {
			d, err := time.ParseDuration(args[0])
			if err != nil || d < 0 {
				return "min_age must be a duration like 5m"
			}
			minAge = d
		}
		return a.pending(ctx, minAge)
	case "order":
		if len(args) != 1 {
			return "usage: /order <order_id>"
		}
		return a.order(ctx, args[0])
	case "retry":
		if len(args) != 1 {
			return "usage: /retry <order_id>"
		}
		return a.retry(ctx, update, args[0])
	default:
		return ""
	}
}

func (a *App) pending(ctx context.Context, minAge time.Duration) string {
	records, err := a.payments.StalledOrders(ctx, minAge, pendingListLimit)
	if err != nil {
		a.logger.Error("list stalled orders failed", zap.Error(err))
		return "Could not load stalled orders."
	}
	if len(records) == 0 {
		return noPendingText
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, fmt.Sprintf("Stalled orders: %d", len(records)))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("- %s %s attempts=%d last_error=%s",
			rec.GatewayOrderID, rec.Item.String(), rec.Attempts, defaultString(rec.LastError, "-")))
	}
	return strings.Join(lines, "\n")
}

func (a *App) order(ctx context.Context, orderID string) string {
	rec, err := a.payments.OrderStatus(ctx, orderID, 0)
	if errors.Is(err, paymentsvc.ErrUnknownOrder) {
		return "Order not found."
	}
	if err != nil {
		a.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
		return "Could not load order."
	}
	return formatOrder(rec)
}

func (a *App) retry(ctx context.Context, update tginfra.CommandUpdate, orderID string) string {
	result, err := a.payments.RetryPending(ctx, orderID)
	a.logger.Info("operator retry",
		zap.String("order_id", orderID),
		zap.Int64("operator_id", update.UserID),
		zap.String("operator", update.Username),
		zap.Error(err),
	)

	var verifyErr *paymentsvc.VerificationError
	switch {
	case err == nil && result.AlreadyProcessed:
		return "Order was already completed."
	case err == nil:
		return "Order completed: " + result.Item.String()
	case errors.Is(err, paymentsvc.ErrUnknownOrder):
		return "Order not found."
	case errors.Is(err, paymentsvc.ErrAlreadyFailed):
		return "Order has failed permanently."
	case errors.Is(err, paymentsvc.ErrNoStoredProof):
		return "Order has no accepted payment yet."
	case errors.Is(err, paymentsvc.ErrFulfillmentFailed):
		return "Fulfillment failed again, order stays pending."
	case errors.Is(err, paymentsvc.ErrGatewayUnavailable):
		return "Gateway unavailable, try again later."
	case errors.As(err, &verifyErr):
		return "Stored proof was rejected: " + string(verifyErr.Reason)
	default:
		return "Retry failed."
	}
}

func formatOrder(rec model.PaymentRecord) string {
	lines := []string{
		"Order " + rec.GatewayOrderID,
		"Status: " + string(rec.Status),
		"Item: " + rec.Item.String(),
		fmt.Sprintf("Amount: %d %s", rec.Amount, rec.Currency),
		fmt.Sprintf("Purchaser: %d", rec.PurchaserID),
		fmt.Sprintf("Attempts: %d", rec.Attempts),
	}
	if rec.FailureReason != nil {
		lines = append(lines, "Failure: "+*rec.FailureReason)
	}
	if rec.LastError != nil {
		lines = append(lines, "Last error: "+*rec.LastError)
	}
	if rec.Fulfillment != nil {
		lines = append(lines, "Reference: "+rec.Fulfillment.Reference)
	}
	return strings.Join(lines, "\n")
}

func defaultString(value *string, fallback string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return fallback
	}
	return *value
}

func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.checkout.Drain(ctx)
	if err := a.checkout.Close(); err != nil {
		a.logger.Warn("close checkout", zap.Error(err))
	}
}
