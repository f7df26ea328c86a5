package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes messages to the log instead of delivering them. Used by
// `relay cycle` to inspect what a cycle would send.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs msg and always succeeds.
func (n *LogNotifier) Send(ctx context.Context, recipient int64, msg Message) error {
	n.logger.Info("Notification (dry run)",
		"recipient", recipient, "kind", msg.Kind, "text", msg.Text, "link", msg.LinkURL)
	return nil
}
