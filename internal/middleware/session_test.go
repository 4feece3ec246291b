package middleware

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/msplit/msplit/internal/auth"
	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/logging"
	"github.com/msplit/msplit/internal/ratelimit"
)

func newSessionApp(t *testing.T) (*fiber.App, *identity.Service) {
	t.Helper()
	tokens := auth.NewIssuer("test-secret", time.Hour)
	svc := identity.NewService(identity.NewMemoryRepository(), identity.NewMemorySessionStore(), identity.NewBroker(),
		tokens, identity.Options{HashCost: bcrypt.MinCost, Logger: logging.Discard()})

	app := fiber.New()
	app.Use(DeviceID())
	app.Get("/secure", SessionToken(tokens, svc), func(c *fiber.Ctx) error {
		id, _ := c.Locals(IdentityIDLocal).(string)
		return c.SendString(id)
	})
	return app, svc
}

func get(t *testing.T, app *fiber.App, device, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, "/secure", nil)
	if device != "" {
		req.Header.Set(deviceIDHeader, device)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestDeviceIDRequired(t *testing.T) {
	app, _ := newSessionApp(t)
	if status := get(t, app, "", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without device, got %d", status)
	}
	if status := get(t, app, "bad device id", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for malformed device, got %d", status)
	}
}

func TestSessionTokenBinding(t *testing.T) {
	app, svc := newSessionApp(t)
	ctx := context.Background()
	_, sess, err := svc.Register(ctx, "device-1", identity.Draft{FullName: "Jane", Email: "jane@example.com", Phone: "0712345678", PIN: "1234"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if status := get(t, app, "device-1", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status := get(t, app, "device-1", "garbage"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
	if status := get(t, app, "device-1", sess.AccessToken); status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if status := get(t, app, "device-2", sess.AccessToken); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for token replayed from another device, got %d", status)
	}

	if err := svc.SignOut(ctx, "device-1"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if status := get(t, app, "device-1", sess.AccessToken); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 after sign out, got %d", status)
	}
}

func newLoginApp(perContact, perIP ratelimit.Limiter) *fiber.App {
	app := fiber.New()
	app.Use(DeviceID())
	app.Post("/login", LoginRateLimit(perContact, perIP, PhoneFromBody, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postLogin(t *testing.T, app *fiber.App, device, phone string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"phone":"`+phone+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(deviceIDHeader, device)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginRateLimitFollowsContactAcrossDevices(t *testing.T) {
	app := newLoginApp(ratelimit.NewMemoryLimiter(2, time.Minute), nil)

	for i := 0; i < 2; i++ {
		if status := postLogin(t, app, "device-1", "0712345678"); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, status)
		}
	}
	if status := postLogin(t, app, "device-1", "0712345678"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	for _, device := range []string{"device-2", "device-3", "rotated-4"} {
		if status := postLogin(t, app, device, "0712345678"); status != fiber.StatusTooManyRequests {
			t.Fatalf("a fresh device id must not reset the contact window, %s got %d", device, status)
		}
	}
	if status := postLogin(t, app, "device-1", "0722000000"); status != fiber.StatusOK {
		t.Fatalf("another contact should not share the budget, got %d", status)
	}
}

func TestLoginRateLimitPerIP(t *testing.T) {
	app := newLoginApp(ratelimit.NewMemoryLimiter(10, time.Minute), ratelimit.NewMemoryLimiter(3, time.Minute))

	phones := []string{"0711000001", "0711000002", "0711000003"}
	for i, phone := range phones {
		if status := postLogin(t, app, "device-"+phone, phone); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, status)
		}
	}
	if status := postLogin(t, app, "device-x", "0711000004"); status != fiber.StatusTooManyRequests {
		t.Fatalf("spraying contacts from one address should hit the IP limit, got %d", status)
	}
}

func TestLoginRateLimitWithoutContactUsesIPOnly(t *testing.T) {
	app := newLoginApp(ratelimit.NewMemoryLimiter(1, time.Minute), nil)
	for i := 0; i < 3; i++ {
		if status := postLogin(t, app, "device-1", ""); status != fiber.StatusOK {
			t.Fatalf("attempt %d without a contact should pass through, got %d", i+1, status)
		}
	}
}
