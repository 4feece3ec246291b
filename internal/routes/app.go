package routes

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/middleware"
	"github.com/msplit/msplit/internal/shell"
)

// RegisterAppRoutes exposes the resolved phase and the phase-level actions.
// Reading the phase only needs the device ID; every action that moves the
// phase also needs the device's access token. unlockLimiter may be nil.
func RegisterAppRoutes(r fiber.Router, host *shell.Host, sessionToken, unlockLimiter fiber.Handler) {
	g := r.Group("/app")

	g.Get("/", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		return c.JSON(app.Snapshot())
	}))
	g.Post("/refresh", withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		return c.JSON(app.Refresh(c.UserContext()))
	}))
	g.Post("/onboarding/complete", sessionToken, withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		snap, err := app.CompleteOnboarding(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(snap)
	}))
	g.Post("/lock", sessionToken, withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		snap, err := app.Lock(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(snap)
	}))
	g.Post("/unlock", chain(sessionToken, unlockLimiter, withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		var req struct {
			PIN string `json:"pin"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		_, err := app.Flow().Unlock(c.UserContext(), req.PIN)
		return flowResponse(c, app, err)
	}))...)
	g.Post("/sign-out", sessionToken, withApp(host, func(c *fiber.Ctx, app *shell.App) error {
		snap, err := app.SignOut(c.UserContext())
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(snap)
	}))
}

// withApp resolves the calling device's app before running fn.
func withApp(host *shell.Host, fn func(c *fiber.Ctx, app *shell.App) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		app, err := host.App(c.UserContext(), middleware.DeviceIDFrom(c))
		if err != nil {
			if errors.Is(err, shell.ErrClosed) {
				return fiber.NewError(http.StatusServiceUnavailable, "shutting down")
			}
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return fn(c, app)
	}
}

// chain drops the nil handlers of an optional middleware list.
func chain(handlers ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// rememberedContact names the account a quick login or unlock targets.
func rememberedContact(host *shell.Host) middleware.ContactFunc {
	return func(c *fiber.Ctx) string {
		app, err := host.App(c.UserContext(), middleware.DeviceIDFrom(c))
		if err != nil {
			return ""
		}
		return app.Flow().State().RememberedContact
	}
}

// loginContact is the phone in the body, or the one already typed into the
// form when the body leaves it out.
func loginContact(host *shell.Host) middleware.ContactFunc {
	return func(c *fiber.Ctx) string {
		if phone := middleware.PhoneFromBody(c); phone != "" {
			return phone
		}
		app, err := host.App(c.UserContext(), middleware.DeviceIDFrom(c))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(app.Flow().State().Form.PhoneNumber)
	}
}
