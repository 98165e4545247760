package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/ivankudzin/storefront/internal/metrics"
)

type Channel struct {
	Name     string
	Notifier Notifier
}

type DispatcherConfig struct {
	Timeout    time.Duration
	Attempts   uint
	RetryDelay time.Duration
	Workers    int
	QueueSize  int
}

type delivery struct {
	ch  Channel
	msg Message
}

// Dispatcher delivers messages in the background on a fixed set of workers;
// callers never observe delivery errors. When the queue is full or the
// dispatcher is closed the message is dropped and counted.
type Dispatcher struct {
	channels []Channel
	cfg      DispatcherConfig
	log      *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan delivery
	workers sync.WaitGroup
	once    sync.Once
}

func NewDispatcher(channels []Channel, cfg DispatcherConfig, log *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(channels) == 0 {
		channels = []Channel{{Name: "nop", Notifier: Nop{}}}
	}

	d := &Dispatcher{
		channels: channels,
		cfg:      cfg,
		log:      log,
		queue:    make(chan delivery, cfg.QueueSize),
	}
	d.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer d.workers.Done()
			for job := range d.queue {
				d.deliver(job.ch, job.msg)
			}
		}()
	}
	return d
}

// Publish enqueues msg for every channel and never blocks.
func (d *Dispatcher) Publish(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.channels {
		if d.closed {
			d.drop(ch, msg, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- delivery{ch: ch, msg: msg}:
		default:
			d.drop(ch, msg, "queue full")
		}
	}
}

// Close stops accepting messages and blocks until the queued ones have been
// delivered or dropped. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.workers.Wait()
}

func (d *Dispatcher) drop(ch Channel, msg Message, reason string) {
	metrics.NotificationFailures.WithLabelValues(ch.Name).Inc()
	d.log.Warn("notification dropped",
		zap.String("channel", ch.Name),
		zap.String("order_id", msg.OrderID),
		zap.String("outcome", string(msg.Outcome)),
		zap.String("reason", reason),
	)
}

func (d *Dispatcher) deliver(ch Channel, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationFailures.WithLabelValues(ch.Name).Inc()
			d.log.Error("notification channel panicked", zap.String("channel", ch.Name), zap.Any("panic", r))
		}
	}()

	err := retry.Do(
		func() error {
			return ch.Notifier.Notify(ctx, msg)
		},
		retry.Context(ctx),
		retry.Attempts(d.cfg.Attempts),
		retry.Delay(d.cfg.RetryDelay),
		retry.MaxDelay(8*d.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrPermanent)
		}),
	)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(ch.Name).Inc()
		d.log.Warn("notification dropped",
			zap.String("channel", ch.Name),
			zap.String("order_id", msg.OrderID),
			zap.String("outcome", string(msg.Outcome)),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsSent.WithLabelValues(ch.Name).Inc()
}
