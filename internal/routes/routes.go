package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/stellarpay/internal/config"
	"github.com/example/stellarpay/internal/handlers"
	"github.com/example/stellarpay/internal/middleware"
	"github.com/example/stellarpay/internal/pricing"
	"github.com/example/stellarpay/internal/services"
	"github.com/example/stellarpay/internal/token"
)

// Deps carries the wired services the HTTP layer needs.
type Deps struct {
	DB         *gorm.DB
	Config     *config.Config
	Reconciler *services.Reconciler
	Oracle     *pricing.Oracle
	Registry   *token.Registry
	Settings   *services.SettingsService
	Orders     services.OrderStore
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, deps Deps) {
	paymentHandler := handlers.NewPaymentHandler(deps.Reconciler, deps.Oracle, deps.Registry, deps.Settings, deps.Orders)
	adminHandler := handlers.NewAdminHandler(deps.DB, deps.Config, deps.Reconciler, deps.Settings)

	api := app.Group("/api")

	// Buyer-facing payment routes, authorized by the per-order key.
	payment := api.Group("/payment")
	payment.Post("/create", paymentHandler.Create)
	payment.Post("/status", paymentHandler.Status)
	payment.Get("/status/:order_id", paymentHandler.StatusREST)
	payment.Get("/qr/:order_id", paymentHandler.QR)

	api.Get("/prices", paymentHandler.Prices)
	api.Post("/prices/refresh", paymentHandler.RefreshPrices)

	// Admin routes
	admin := api.Group("/admin")
	admin.Post("/login", adminHandler.Login)

	protected := admin.Group("", middleware.AdminAuth(deps.Config))
	protected.Get("/settings", adminHandler.GetSettings)
	protected.Put("/settings", adminHandler.UpdateSettings)
	protected.Get("/payments", adminHandler.ListPayments)
	protected.Post("/payments/:order_id/check", adminHandler.CheckPayment)
	protected.Get("/stats", adminHandler.Stats)
}
