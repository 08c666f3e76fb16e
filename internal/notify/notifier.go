package notify

import "go.uber.org/zap"

// Notifier delivers one message of a given type to an address. Best effort:
// the queue catches and logs every error, nothing propagates to producers.
type Notifier interface {
	Deliver(address, messageType string, data map[string]string) error
}

// LogNotifier writes deliveries to the log instead of sending anything.
// Default when no webhook endpoint is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(address, messageType string, data map[string]string) error {
	n.logger.Info("notification",
		zap.String("address", address),
		zap.String("type", messageType),
		zap.Any("data", data),
	)
	return nil
}
