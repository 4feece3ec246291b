package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/shell"
)

const (
	backendOK     = "ok"
	backendMemory = "memory"
	pingTimeout   = 2 * time.Second
)

type pinger func(ctx context.Context) error

func backendStatus(ctx context.Context, ping pinger) string {
	if ping == nil {
		return backendMemory
	}
	if err := ping(ctx); err != nil {
		return err.Error()
	}
	return backendOK
}

// RegisterHealthRoutes adds a liveness check at /healthz and a readiness
// check at /readyz. Readiness fails only when a configured backend is down;
// in-memory backends are reported but never fail it.
func RegisterHealthRoutes(app *fiber.App, d Deps, host *shell.Host) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": backendOK})
	})

	var pingDB, pingCache pinger
	if d.DB != nil {
		pingDB = d.DB.Ping
	}
	if d.Cache != nil {
		pingCache = func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() }
	}

	app.Get("/readyz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
		defer cancel()

		pg := backendStatus(ctx, pingDB)
		rd := backendStatus(ctx, pingCache)
		status := http.StatusOK
		for _, s := range []string{pg, rd} {
			if s != backendOK && s != backendMemory {
				status = http.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"backends":  fiber.Map{"postgres": pg, "redis": rd},
			"devices":   host.Devices(),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
