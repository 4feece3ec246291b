package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "MSplit"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRequestTimeout  = 15 * time.Second
	defaultSessionTTL      = 7 * 24 * time.Hour
	defaultSignupPerMin    = 3
	defaultLoginPerMin     = 5
	defaultLoginIPPerMin   = 30
	defaultDeviceIdle      = 30 * time.Minute
	defaultMpesaBaseURL    = "https://sandbox.safaricom.co.ke"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	requestSecondsEnvVar   = "REQUEST_TIMEOUT_SECONDS"
	requestDurationEnvVar  = "REQUEST_TIMEOUT"
	sessionSecondsEnvVar   = "SESSION_TTL_SECONDS"
	sessionDurationEnvVar  = "SESSION_TTL"
	idleSecondsEnvVar      = "DEVICE_IDLE_TIMEOUT_SECONDS"
	idleDurationEnvVar     = "DEVICE_IDLE_TIMEOUT"
	devSessionSecret       = "msplit-dev-session-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName           string
	AppEnv            string
	Port              string
	LogLevel          string
	DatabaseURL       string
	RedisURL          string
	ShutdownPeriod    time.Duration
	IdempotencyTTL    time.Duration
	RequestTimeout    time.Duration
	SessionTTL        time.Duration
	SessionSecret     string
	PINHashCost       int
	SignupPerMinute   int
	LoginPerMinute    int
	LoginIPPerMinute  int
	DeviceIdleTimeout time.Duration
	Mpesa             MpesaConfig
}

// MpesaConfig holds the STK push gateway settings. The base URL selects
// sandbox or production; nothing is decided at build time.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
}

// Enabled reports whether enough credentials are present to call the gateway.
func (m MpesaConfig) Enabled() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != "" && m.PassKey != ""
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		RequestTimeout: defaultRequestTimeout,
		SessionTTL:     defaultSessionTTL,
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		Mpesa: MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", defaultMpesaBaseURL),
			ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:      os.Getenv("MPESA_SHORTCODE"),
			PassKey:        os.Getenv("MPESA_PASSKEY"),
			CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = durationFromEnv(requestSecondsEnvVar, requestDurationEnvVar, cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv(sessionSecondsEnvVar, sessionDurationEnvVar, cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.DeviceIdleTimeout, err = durationFromEnv(idleSecondsEnvVar, idleDurationEnvVar, defaultDeviceIdle); err != nil {
		return Config{}, err
	}
	if cfg.PINHashCost, err = intFromEnv("PIN_HASH_COST", 0); err != nil {
		return Config{}, err
	}
	if cfg.SignupPerMinute, err = intFromEnv("SIGNUP_RATE_LIMIT", defaultSignupPerMin); err != nil {
		return Config{}, err
	}
	if cfg.LoginPerMinute, err = intFromEnv("LOGIN_RATE_LIMIT", defaultLoginPerMin); err != nil {
		return Config{}, err
	}
	if cfg.LoginIPPerMinute, err = intFromEnv("LOGIN_IP_RATE_LIMIT", defaultLoginIPPerMin); err != nil {
		return Config{}, err
	}

	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", requestDurationEnvVar)
	}

	if cfg.IsDev() {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = devSessionSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment, where
// in-memory stores may stand in for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
