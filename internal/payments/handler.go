package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/phase"
)

// PhaseLookup returns the resolved phase of a device.
type PhaseLookup func(ctx context.Context, deviceID string) (phase.Phase, error)

// Handler exposes payment endpoints.
type Handler struct {
	service  *Service
	phaseFor PhaseLookup
	deviceID func(c *fiber.Ctx) string
}

// NewHandler constructs a payment handler. deviceID extracts the caller's
// device from the request.
func NewHandler(service *Service, phaseFor PhaseLookup, deviceID func(c *fiber.Ctx) string) *Handler {
	return &Handler{service: service, phaseFor: phaseFor, deviceID: deviceID}
}

type pushRequest struct {
	Phone     string `json:"phone"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Push prompts the payer's phone for a payment.
func (h *Handler) Push(c *fiber.Ctx) error {
	var req pushRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	current, err := h.phaseFor(c.UserContext(), h.deviceID(c))
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, "session state unavailable")
	}

	receipt, err := h.service.Push(c.UserContext(), current, PushInput{
		Phone:     req.Phone,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAuthenticated):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrInvalidPhone), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidReference):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrGatewayDisabled):
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, ErrGatewayRejected):
			return fiber.NewError(http.StatusBadGateway, "payment request rejected")
		default:
			return fiber.NewError(http.StatusBadGateway, "payment gateway unavailable")
		}
	}

	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"merchant_request_id": receipt.MerchantRequestID,
		"checkout_request_id": receipt.CheckoutRequestID,
		"customer_message":    receipt.CustomerMessage,
	})
}
