package groups

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/phase"
)

// PhaseLookup returns the resolved phase of a device.
type PhaseLookup func(ctx context.Context, deviceID string) (phase.Phase, error)

// Handler exposes the group list.
type Handler struct {
	service    *Service
	phaseFor   PhaseLookup
	deviceID   func(c *fiber.Ctx) string
	identityID func(c *fiber.Ctx) string
}

// NewHandler constructs a group handler. deviceID and identityID extract the
// caller from a request that passed the access-token check.
func NewHandler(service *Service, phaseFor PhaseLookup, deviceID, identityID func(c *fiber.Ctx) string) *Handler {
	return &Handler{service: service, phaseFor: phaseFor, deviceID: deviceID, identityID: identityID}
}

// List returns the caller's groups.
func (h *Handler) List(c *fiber.Ctx) error {
	current, err := h.phaseFor(c.UserContext(), h.deviceID(c))
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, "session state unavailable")
	}
	groups, err := h.service.List(c.UserContext(), current, h.identityID(c))
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return fiber.NewError(http.StatusForbidden, err.Error())
		}
		return fiber.NewError(http.StatusServiceUnavailable, "groups unavailable")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"groups": groups})
}
