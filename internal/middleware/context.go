package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/msplit/msplit/internal/identity"
)

const (
	requestIDHeader = "X-Request-ID"
	deviceIDHeader  = "X-Device-ID"
	maxDeviceIDLen  = 128
)

// RequestID ensures each request has a stable request identifier for tracing and logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// RequestIDFrom returns the request ID set by RequestID.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}

// DeviceID requires the X-Device-ID header. Every session-core route acts on
// behalf of exactly one device.
func DeviceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(deviceIDHeader)
		if !validDeviceID(id) {
			return fiber.NewError(http.StatusBadRequest, "missing or malformed X-Device-ID header")
		}
		c.Locals(identity.DeviceIDLocal, id)
		return c.Next()
	}
}

// DeviceIDFrom returns the device ID set by DeviceID.
func DeviceIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(identity.DeviceIDLocal).(string)
	return id
}

func validDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.', ch == ':':
		default:
			return false
		}
	}
	return true
}
