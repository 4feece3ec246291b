package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/msplit/msplit/internal/credential"
	"github.com/msplit/msplit/internal/notification"
	"github.com/msplit/msplit/internal/phase"
)

const maxReferenceLength = 12

var (
	// ErrNotAuthenticated is returned when the device is not in the Authenticated phase.
	ErrNotAuthenticated = errors.New("device is not authenticated")
	// ErrInvalidPhone is returned for a payer phone the signup rule would reject.
	ErrInvalidPhone = errors.New("invalid payer phone")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidReference is returned for an empty or overlong account reference.
	ErrInvalidReference = errors.New("invalid account reference")
)

// PushInput captures a payment prompt request.
type PushInput struct {
	Phone     string
	Amount    int64
	Reference string
}

// Service lets signed-in devices prompt a payer for a payment.
type Service struct {
	gateway  Gateway
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service.
func NewService(gateway Gateway, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gateway, notifier: notifier, logger: logger}
}

// Push sends an STK push on behalf of a device whose resolved phase is current.
func (s *Service) Push(ctx context.Context, current phase.Phase, input PushInput) (Receipt, error) {
	if current != phase.Authenticated {
		return Receipt{}, ErrNotAuthenticated
	}
	phone := strings.TrimSpace(input.Phone)
	if !credential.ValidPhone(phone) {
		return Receipt{}, ErrInvalidPhone
	}
	if input.Amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	ref := strings.TrimSpace(input.Reference)
	if ref == "" || len(ref) > maxReferenceLength {
		return Receipt{}, ErrInvalidReference
	}

	msisdn := MSISDN(phone)
	receipt, err := s.gateway.InitiatePush(ctx, msisdn, input.Amount, ref)
	if err != nil {
		s.logger.Warn("stk push failed", "reference", ref, "error", err)
		return Receipt{}, err
	}

	s.logger.Info("stk push accepted", "reference", ref, "checkout_request_id", receipt.CheckoutRequestID)
	if s.notifier != nil {
		err := s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindSTKPushInitiated,
			Destination: phone,
			Body:        fmt.Sprintf("KES %d requested for %s", input.Amount, ref),
		})
		if err != nil {
			s.logger.Warn("stk push notification failed", "reference", ref, "error", err)
		}
	}
	return receipt, nil
}

// MSISDN converts a local or +254 number to the 2547XXXXXXXX form.
func MSISDN(phone string) string {
	switch {
	case strings.HasPrefix(phone, "+254"):
		return phone[1:]
	case strings.HasPrefix(phone, "0"):
		return "254" + phone[1:]
	default:
		return phone
	}
}
