package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quartiero/quartiero/app/controllers"
	"github.com/quartiero/quartiero/internal/pkg/billing"
	"github.com/quartiero/quartiero/internal/pkg/cache"
	"github.com/quartiero/quartiero/internal/pkg/database"
	"github.com/quartiero/quartiero/internal/pkg/env"
	"github.com/quartiero/quartiero/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "3000")))
	log.Fatal().Err(err).Msg("server stopped")
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	setupLogging()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), fiberlogger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// BILLING
	gateway := billing.NewStripeGateway(env.GetEnv("STRIPE_SECRET_KEY", ""))
	catalog := resolveCatalog(gateway)
	controllers.InitializeBillingController(gateway, catalog)

	// ROUTER
	router.InstallRouter(app)

	return app
}

func setupLogging() {
	level := zerolog.InfoLevel
	if env.IsDev() {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if env.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// resolveCatalog maps tiers to provider price ids, creating missing catalog
// entries on first boot. A provider outage here must not keep the platform
// down: webhooks and confirmations still work without a catalog, only new
// checkouts are refused until the next restart.
func resolveCatalog(gateway billing.ProviderGateway) *billing.Catalog {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	catalog, err := billing.EnsureCatalog(ctx, gateway, billing.DefaultCatalog(), log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("provider catalog not resolved, checkout creation disabled")
		return nil
	}
	return catalog
}
