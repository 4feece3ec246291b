// Command migrate applies the embedded database schema.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/msplit/msplit/internal/config"
	"github.com/msplit/msplit/internal/db/migrate"
	"github.com/msplit/msplit/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.IsDev())

	if err := migrate.Run(cfg.DatabaseURL, migrate.Direction(*direction)); err != nil {
		logger.Error("migrate", "direction", *direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "direction", *direction)
}
