package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints behind the access token and,
// when Redis is available, the idempotency guard.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, sessionToken, idempotency fiber.Handler) {
	r.Post("/payments/push", chain(sessionToken, idempotency, h.Push)...)
}
