package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/msplit/msplit/internal/auth"
	"github.com/msplit/msplit/internal/config"
	"github.com/msplit/msplit/internal/credential"
	"github.com/msplit/msplit/internal/groups"
	"github.com/msplit/msplit/internal/identity"
	"github.com/msplit/msplit/internal/localstore"
	"github.com/msplit/msplit/internal/middleware"
	"github.com/msplit/msplit/internal/notification"
	"github.com/msplit/msplit/internal/payments"
	"github.com/msplit/msplit/internal/ratelimit"
	"github.com/msplit/msplit/internal/shell"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Gateway overrides the payment gateway built from Cfg.Mpesa.
	Gateway payments.Gateway
	// Groups overrides the group store built from DB.
	Groups groups.Repository
}

// Setup configures middlewares and all application routes. The returned
// host owns every device's session core and must be closed on shutdown.
func Setup(app *fiber.App, d Deps) (*shell.Host, error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	// Services
	var (
		identityRepo identity.Repository
		groupRepo    groups.Repository
		sessions     identity.SessionStore
		stores       shell.LocalStoreFactory
		signups      ratelimit.Limiter
		logins       ratelimit.Limiter
		loginsByIP   ratelimit.Limiter
	)
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
		groupRepo = groups.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository()
		groupRepo = groups.NewMemoryRepository()
	}
	if d.Groups != nil {
		groupRepo = d.Groups
	}
	if d.Cache != nil {
		sessions = identity.NewRedisSessionStore(d.Cache)
		stores = func(deviceID string) localstore.Store { return localstore.NewRedisStore(d.Cache, deviceID) }
		signups = ratelimit.NewRedisLimiter(d.Cache, "rl:signup:", d.Cfg.SignupPerMinute, time.Minute)
		logins = ratelimit.NewRedisLimiter(d.Cache, "rl:login:", d.Cfg.LoginPerMinute, time.Minute)
		loginsByIP = ratelimit.NewRedisLimiter(d.Cache, "rl:login-ip:", d.Cfg.LoginIPPerMinute, time.Minute)
	} else {
		sessions = identity.NewMemorySessionStore()
		stores = localstore.NewMemoryDevices().For
		signups = ratelimit.NewMemoryLimiter(d.Cfg.SignupPerMinute, time.Minute)
		logins = ratelimit.NewMemoryLimiter(d.Cfg.LoginPerMinute, time.Minute)
		loginsByIP = ratelimit.NewMemoryLimiter(d.Cfg.LoginIPPerMinute, time.Minute)
	}

	tokens := auth.NewIssuer(d.Cfg.SessionSecret, d.Cfg.SessionTTL)
	identitySvc := identity.NewService(identityRepo, sessions, identity.NewBroker(), tokens, identity.Options{
		HashCost:      d.Cfg.PINHashCost,
		SignupLimiter: signups,
		Logger:        d.Logger,
	})
	notifier := notification.NewLoggerNotifier(d.Logger)
	host := shell.NewHost(identitySvc, stores, credential.Options{
		Timeout:  d.Cfg.RequestTimeout,
		Notifier: notifier,
		Logger:   d.Logger,
	})
	host.StartEviction(d.Cfg.DeviceIdleTimeout/2, d.Cfg.DeviceIdleTimeout)

	RegisterHealthRoutes(app, d, host)

	gateway := d.Gateway
	if gateway == nil {
		if d.Cfg.Mpesa.Enabled() {
			gateway = payments.NewMpesaGateway(d.Cfg.Mpesa, nil)
		} else {
			d.Logger.Warn("mpesa credentials missing, payments disabled")
			gateway = payments.DisabledGateway{}
		}
	}
	paymentHandler := payments.NewHandler(payments.NewService(gateway, notifier, d.Logger), host.Phase, middleware.DeviceIDFrom)
	identityHandler := identity.NewHandler(identitySvc)
	groupHandler := groups.NewHandler(groups.NewService(groupRepo, d.Logger), host.Phase, middleware.DeviceIDFrom, middleware.IdentityIDFrom)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	sessionToken := middleware.SessionToken(tokens, identitySvc)
	remembered := middleware.LoginRateLimit(logins, loginsByIP, rememberedContact(host), d.Logger)

	device := api.Group("", middleware.DeviceID())
	RegisterAppRoutes(device, host, sessionToken, remembered)
	RegisterFlowRoutes(device, host, middleware.LoginRateLimit(logins, loginsByIP, loginContact(host), d.Logger), remembered)
	RegisterIdentityRoutes(device, identityHandler, sessionToken)
	RegisterGroupRoutes(device, groupHandler, sessionToken)

	var idem fiber.Handler
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterPaymentRoutes(device, paymentHandler, sessionToken, idem)

	return host, nil
}
