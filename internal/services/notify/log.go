package notify

import (
	"context"

	"go.uber.org/zap"
)

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info("payment notification",
		zap.String("order_id", msg.OrderID),
		zap.String("outcome", string(msg.Outcome)),
		zap.String("item", msg.Item.String()),
		zap.String("email", maskEmail(msg.Email)),
		zap.String("reason", msg.Reason),
	)
	return nil
}
