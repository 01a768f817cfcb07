package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/stellarpay/internal/config"
	"github.com/example/stellarpay/internal/database"
	"github.com/example/stellarpay/internal/pricing"
	"github.com/example/stellarpay/internal/routes"
	"github.com/example/stellarpay/internal/services"
	"github.com/example/stellarpay/internal/stellar"
	"github.com/example/stellarpay/internal/token"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL)

	registry := token.NewRegistry()
	stellarClient := stellar.NewClient(cfg.HorizonURL)

	settingsService, err := services.NewSettingsService(db, registry, stellarClient, cfg)
	if err != nil {
		log.Fatalf("failed to load gateway settings: %v", err)
	}

	oracle := pricing.NewOracle(registry, stellarClient, pricing.NewGormSnapshotStore(db), func() pricing.Options {
		st := settingsService.Current()
		return pricing.Options{
			CacheTTL:      st.PriceCacheTTL,
			BufferPercent: st.PriceBufferPercent,
		}
	}, cfg.PricingAPIURL)

	orders := services.NewGormOrderStore(db)
	notifier := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	reconciler := services.NewReconciler(db, stellarClient, oracle, registry, orders, notifier, settingsService.Current)

	if err := services.EnsureAdminUser(db, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to seed admin user: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "Stellar Payment Gateway",
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, routes.Deps{
		DB:         db,
		Config:     cfg,
		Reconciler: reconciler,
		Oracle:     oracle,
		Registry:   registry,
		Settings:   settingsService,
		Orders:     orders,
	})

	go runSweeper(reconciler, cfg.SweepInterval)

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}

// runSweeper reconciles pending payments on a fixed interval.
func runSweeper(reconciler *services.Reconciler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		reconciler.SweepPending(ctx)
		cancel()
	}
}
