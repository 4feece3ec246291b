package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPINResetRequested is sent when a user asks to reset a forgotten PIN.
	KindPINResetRequested = "pin_reset_requested"
	// KindSTKPushInitiated is sent when a payment prompt was accepted by the gateway.
	KindSTKPushInitiated = "stk_push_initiated"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
// Destinations are masked since they are phone numbers.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", Mask(message.Destination), "body", message.Body)
	return nil
}

// Mask keeps the last three characters of a contact.
func Mask(contact string) string {
	if len(contact) <= 3 {
		return "***"
	}
	masked := make([]byte, len(contact))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(contact)-3:], contact[len(contact)-3:])
	return string(masked)
}
