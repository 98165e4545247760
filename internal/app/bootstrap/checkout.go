package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/config"
	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/infra/httpclient"
	"github.com/ivankudzin/storefront/internal/infra/kafka"
	s3infra "github.com/ivankudzin/storefront/internal/infra/s3"
	"github.com/ivankudzin/storefront/internal/infra/telegram"
	"github.com/ivankudzin/storefront/internal/repo/memory"
	pgrepo "github.com/ivankudzin/storefront/internal/repo/postgres"
	redrepo "github.com/ivankudzin/storefront/internal/repo/redis"
	"github.com/ivankudzin/storefront/internal/services/fulfillment"
	"github.com/ivankudzin/storefront/internal/services/gateway"
	"github.com/ivankudzin/storefront/internal/services/notify"
	paymentsvc "github.com/ivankudzin/storefront/internal/services/payments"
	ratesvc "github.com/ivankudzin/storefront/internal/services/rate"
	"github.com/ivankudzin/storefront/internal/services/receipts"
)

// Options lets a process contribute clients it already owns.
type Options struct {
	Telegram              notify.TextSender
	RequireDurableStorage bool
}

// Checkout is the fully wired payment pipeline plus the clients it holds open.
type Checkout struct {
	Payments *paymentsvc.Service
	Receipts *receipts.S3Storage
	Notifier *notify.Dispatcher
	Storage  string

	postgres *pgxpool.Pool
	redis    *goredis.Client
	producer *kafka.Producer
	log      *zap.Logger
}

type storage struct {
	catalog     paymentsvc.ItemCatalog
	records     paymentsvc.RecordStore
	courses     fulfillment.CourseAccessStore
	workshops   fulfillment.WorkshopSeatStore
	services    fulfillment.ServiceBookingStore
	postgres    *pgxpool.Pool
	description string
}

func NewCheckout(ctx context.Context, cfg config.Config, opts Options, log *zap.Logger) (*Checkout, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if opts.RequireDurableStorage && strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "memory") {
		return nil, fmt.Errorf("memory storage is process-local, use the postgres driver")
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c := &Checkout{Storage: store.description, postgres: store.postgres, log: log}

	adapter, err := gateway.New(gateway.Config{
		Provider:      cfg.Gateway.Provider,
		BaseURL:       cfg.Gateway.BaseURL,
		KeyID:         cfg.Gateway.KeyID,
		KeySecret:     cfg.Gateway.KeySecret,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		VerifyAmount:  cfg.Gateway.VerifyAmount,
	}, httpclient.New(cfg.Gateway.Timeout))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init payment gateway: %w", err)
	}

	if cfg.Redis.Addr != "" {
		client := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis init failed, idempotency keys and rate limits disabled", zap.Error(err))
			_ = client.Close()
		} else {
			c.redis = client
		}
		cancel()
	}

	if s3Client, err := s3infra.NewClient(cfg.S3); err != nil {
		log.Warn("s3 init failed, continuing without receipts", zap.Error(err))
	} else {
		candidate := receipts.NewS3Storage(s3Client, cfg.S3.Bucket)
		bucketCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := candidate.EnsureBucket(bucketCtx); err != nil {
			log.Warn("receipt bucket unavailable, continuing without receipts", zap.Error(err))
		} else {
			c.Receipts = candidate
		}
		cancel()
	}

	if err := c.buildNotifier(cfg, opts.Telegram); err != nil {
		c.Close()
		return nil, err
	}

	siteURL := cfg.Checkout.SiteBaseURL
	dispatcher := fulfillment.NewDispatcher(map[enums.ItemType]fulfillment.Handler{
		enums.ItemTypeCourse:   fulfillment.NewCourseHandler(store.courses, siteURL),
		enums.ItemTypeWorkshop: fulfillment.NewWorkshopHandler(store.workshops, siteURL),
		enums.ItemTypeService:  fulfillment.NewServiceHandler(store.services, siteURL),
	}, log)

	c.Payments = paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog:   store.catalog,
		Records:   store.records,
		Gateway:   adapter,
		Fulfiller: dispatcher,
		Notifier:  c.Notifier,
		Logger:    log,
	}, paymentsvc.Config{GatewayTimeout: cfg.Gateway.Timeout})

	if c.redis != nil {
		c.Payments.AttachIdempotency(redrepo.NewIdempotencyRepo(c.redis, cfg.Checkout.IdempotencyTTL))
		c.Payments.AttachRateLimiter(ratesvc.NewLimiter(
			redrepo.NewRateRepo(c.redis),
			"checkout",
			ratesvc.PerMinute(cfg.Checkout.RatePerMinute),
		))
	}

	log.Info("checkout wired",
		zap.String("storage", store.description),
		zap.String("gateway", adapter.Name()),
		zap.Bool("redis", c.redis != nil),
		zap.Bool("receipts", c.Receipts != nil),
	)
	return c, nil
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (storage, error) {
	items, err := CatalogSeed(cfg.Catalog)
	if err != nil {
		return storage{}, err
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "memory") {
		catalog := memory.NewCatalog(items...)
		ledger := memory.NewLedger(catalog)
		return storage{
			catalog:     catalog,
			records:     memory.NewPaymentRecordRepo(),
			courses:     ledger,
			workshops:   ledger,
			services:    ledger,
			description: "memory",
		}, nil
	}

	pool, err := pgrepo.NewPool(ctx, pgrepo.PoolConfig{
		DSN:         cfg.Postgres.DSN,
		MaxConns:    cfg.Postgres.MaxConns,
		PingTimeout: cfg.Postgres.PingTimeout,
	})
	if err != nil {
		return storage{}, fmt.Errorf("init postgres: %w", err)
	}
	catalog := pgrepo.NewCatalogRepo(pool)
	for _, item := range items {
		if err := catalog.Upsert(ctx, item); err != nil {
			log.Warn("catalog seed failed", zap.String("item", item.Ref.String()), zap.Error(err))
		}
	}
	ledger := pgrepo.NewFulfillmentRepo(pool)
	return storage{
		catalog:     catalog,
		records:     pgrepo.NewPaymentRecordRepo(pool),
		courses:     ledger,
		workshops:   ledger,
		services:    ledger,
		postgres:    pool,
		description: "postgres",
	}, nil
}

// CatalogSeed converts configured catalog entries into purchasable items.
func CatalogSeed(entries []config.CatalogItemConfig) ([]model.PurchasableItem, error) {
	items := make([]model.PurchasableItem, 0, len(entries))
	for _, e := range entries {
		itemType, ok := enums.ParseItemType(e.Type)
		if !ok {
			return nil, fmt.Errorf("catalog item %q: unknown type %q", e.ID, e.Type)
		}
		if strings.TrimSpace(e.ID) == "" || e.Price <= 0 {
			return nil, fmt.Errorf("catalog item %q: id and positive price are required", e.ID)
		}
		items = append(items, model.PurchasableItem{
			Ref:       model.ItemRef{Type: itemType, ID: strings.TrimSpace(e.ID)},
			Title:     e.Title,
			Price:     e.Price,
			Currency:  strings.ToUpper(strings.TrimSpace(e.Currency)),
			Available: e.Available,
			Capacity:  e.Capacity,
		})
	}
	return items, nil
}

func (c *Checkout) buildNotifier(cfg config.Config, sender notify.TextSender) error {
	deps := notify.BuildDeps{Logger: c.log, Telegram: sender}
	names := make([]string, 0, len(cfg.Notify.Channels))

	for _, raw := range cfg.Notify.Channels {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "receipt" && c.Receipts == nil {
			c.log.Warn("receipt notify channel skipped, s3 storage unavailable")
			continue
		}
		names = append(names, raw)

		switch name {
		case "telegram":
			if deps.Telegram != nil || cfg.Bot.Token == "" {
				continue
			}
			bot, err := telegram.NewBot(cfg.Bot.Token)
			if err != nil {
				return fmt.Errorf("init telegram notifier: %w", err)
			}
			deps.Telegram = bot
		case "kafka":
			if c.producer != nil || len(cfg.Notify.Kafka.Brokers) == 0 {
				continue
			}
			p, err := kafka.NewProducer(kafka.Config{
				Brokers: cfg.Notify.Kafka.Brokers,
				Topic:   cfg.Notify.Kafka.Topic,
				Version: cfg.Notify.Kafka.Version,
			}, c.log)
			if err != nil {
				return fmt.Errorf("init kafka notifier: %w", err)
			}
			c.producer = p
			deps.Events = p
		case "receipt":
			deps.Receipts = c.Receipts
		}
	}

	chatID := cfg.Notify.Telegram.ChatID
	if chatID == 0 {
		chatID = cfg.Bot.OperatorChatID
	}
	channels, err := notify.Build(notify.BuildConfig{
		Channels: names,
		SMTP: notify.SMTPConfig{
			Addr:     cfg.Notify.SMTP.Addr,
			Username: cfg.Notify.SMTP.Username,
			Password: cfg.Notify.SMTP.Password,
			From:     cfg.Notify.SMTP.From,
		},
		TelegramChatID: chatID,
	}, deps)
	if err != nil {
		return err
	}

	c.Notifier = notify.NewDispatcher(channels, notify.DispatcherConfig{
		Timeout:    cfg.Notify.Timeout,
		Attempts:   cfg.Notify.Attempts,
		RetryDelay: cfg.Notify.RetryDelay,
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
	}, c.log.Named("notify"))
	return nil
}

// Drain stops accepting notifications and waits for the queued ones until ctx expires.
func (c *Checkout) Drain(ctx context.Context) {
	if c.Notifier == nil {
		return
	}
	delivered := make(chan struct{})
	go func() {
		c.Notifier.Close()
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-ctx.Done():
		c.log.Warn("shutdown before pending notifications were delivered")
	}
}

func (c *Checkout) Close() error {
	var closeErr error
	if c.producer != nil {
		if err := c.producer.Close(); err != nil {
			closeErr = err
		}
	}
	if c.postgres != nil {
		c.postgres.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}
