package notify

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type BuildConfig struct {
	Channels       []string
	SMTP           SMTPConfig
	TelegramChatID int64
}

type BuildDeps struct {
	Telegram TextSender
	Events   Publisher
	Receipts ReceiptWriter
	Logger   *zap.Logger
}

// Build turns configured channel names into notifiers. Unknown names and
// channels without their backing client are configuration errors.
func Build(cfg BuildConfig, deps BuildDeps) ([]Channel, error) {
	out := make([]Channel, 0, len(cfg.Channels))
	seen := make(map[string]struct{}, len(cfg.Channels))

	for _, raw := range cfg.Channels {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		var (
			n   Notifier
			err error
		)
		switch name {
		case "email":
			n, err = NewEmailNotifier(cfg.SMTP)
		case "telegram":
			if deps.Telegram == nil {
				return nil, fmt.Errorf("notify channel telegram requires a bot token")
			}
			n, err = NewTelegramNotifier(deps.Telegram, cfg.TelegramChatID)
		case "kafka":
			if deps.Events == nil {
				return nil, fmt.Errorf("notify channel kafka requires brokers")
			}
			n, err = NewEventPublisher(deps.Events)
		case "receipt":
			if deps.Receipts == nil {
				return nil, fmt.Errorf("notify channel receipt requires s3 storage")
			}
			n, err = NewReceiptArchive(deps.Receipts)
		case "log":
			n = NewLogNotifier(deps.Logger)
		case "nop", "none":
			n = Nop{}
		default:
			return nil, fmt.Errorf("unknown notify channel %q", raw)
		}
		if err != nil {
			return nil, fmt.Errorf("build notify channel %s: %w", name, err)
		}
		out = append(out, Channel{Name: name, Notifier: n})
	}

	return out, nil
}
