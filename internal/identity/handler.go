package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DeviceIDLocal is the fiber.Ctx local holding the caller's device ID.
const DeviceIDLocal = "device_id"

// Handler exposes account endpoints that sit outside the credential flow.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type profileResponse struct {
	UserID      string    `json:"user_id"`
	Phone       string    `json:"phone"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	IsFirstTime bool      `json:"is_first_time"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Profile returns the identity signed in on the calling device.
func (h *Handler) Profile(c *fiber.Ctx) error {
	deviceID, _ := c.Locals(DeviceIDLocal).(string)
	sess, err := h.service.CurrentSession(c.UserContext(), deviceID)
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if sess == nil {
		return fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	user, err := h.service.FindByID(c.UserContext(), sess.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return c.Status(http.StatusOK).JSON(profileResponse{
		UserID:      user.ID,
		Phone:       user.ContactPhone,
		FullName:    user.FullName,
		Email:       user.Email,
		IsFirstTime: user.IsFirstTime,
		CreatedAt:   user.CreatedAt,
	})
}

// RefreshSession reissues the calling device's access token.
func (h *Handler) RefreshSession(c *fiber.Ctx) error {
	deviceID, _ := c.Locals(DeviceIDLocal).(string)
	sess, err := h.service.RefreshSession(c.UserContext(), deviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusUnauthorized, "not signed in")
		}
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return c.Status(http.StatusOK).JSON(sessionResponse{SessionID: sess.ID, AccessToken: sess.AccessToken, ExpiresAt: sess.ExpiresAt})
}

// RevokeOtherDevices signs the caller's identity out everywhere except the calling device.
func (h *Handler) RevokeOtherDevices(c *fiber.Ctx) error {
	deviceID, _ := c.Locals(DeviceIDLocal).(string)
	ctx := c.UserContext()
	sess, err := h.service.CurrentSession(ctx, deviceID)
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if sess == nil {
		return fiber.NewError(http.StatusUnauthorized, "not signed in")
	}
	revoked, err := h.service.RevokeIdentity(ctx, sess.IdentityID, deviceID)
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"revoked": revoked})
}
