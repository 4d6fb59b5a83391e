package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quartiero/quartiero/app/controllers"
	"github.com/quartiero/quartiero/internal/pkg/middleware"
	"github.com/quartiero/quartiero/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerWebhookRoutes(app)
	h.registerAuthRoutes(app)
	h.registerBillingRoutes(app)
}

// Webhook ingestion runs before any auth middleware: the provider signs its
// requests, sessions play no role here.
func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	app.Post("/webhooks/billing", controllers.HandleBillingWebhook)
}

func (h HttpRouter) registerAuthRoutes(app *fiber.App) {
	app.Post("/register", controllers.HandleRegister)
	app.Post("/login", controllers.HandleLogin)
	app.Post("/logout", middleware.RequireAPISessionAuth, controllers.HandleLogout)
	app.Get("/me", middleware.RequireAPISessionAuth, controllers.HandleMe)
}

func (h HttpRouter) registerBillingRoutes(app *fiber.App) {
	app.Post("/checkout/session", middleware.RequireAPISessionAuth, controllers.HandleCreateCheckoutSession)
	app.Post("/checkout/confirm", middleware.RequireAPISessionAuth, controllers.HandleCheckoutConfirm)
	app.Post("/billing/portal", middleware.RequireAPISessionAuth, controllers.HandleBillingPortal)
	app.Post("/billing/resync", middleware.RequireAPISessionAuth, controllers.HandleBillingResync)

	app.Get("/admin/billing/counters", middleware.RequireAdmin, controllers.HandleAdminBillingCounters)
	app.Post("/admin/billing/counters/reset", middleware.RequireAdmin, controllers.HandleAdminBillingCountersReset)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
