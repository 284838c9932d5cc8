package service

import (
	"context"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Notifier is the fire-and-forget notification collaborator. Failures
// here never roll back a booking or payment.
type Notifier interface {
	Notify(ctx context.Context, userID int64, event string, payload map[string]interface{}) error
}

// LogNotifier writes notifications to the log; the delivery channel
// itself (email, SMS, push) lives outside this service.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

// Notify logs the notification
func (n *LogNotifier) Notify(ctx context.Context, userID int64, event string, payload map[string]interface{}) error {
	n.logger.Info("notification dispatched",
		zap.Int64("user_id", userID),
		zap.String("event", event),
		zap.Any("payload", payload))
	return nil
}
