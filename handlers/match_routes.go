// handlers/match_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"match-state-service/middleware"
	"match-state-service/services"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService, adminKey string) {
	// 🔓 Public routes
	app.Get("/health", matchService.Health)
	app.Get("/lobby", matchService.Lobby)
	app.Get("/stats", matchService.Stats)

	app.Post("/matches", matchService.CreateMatch)
	app.Get("/matches", matchService.ListMatches)
	app.Get("/matches/:id", matchService.GetMatch)
	app.Put("/matches/:id", matchService.UpdateMatch)
	app.Delete("/matches/:id", matchService.DeleteMatch)

	// 🎮 Engine actions
	app.Post("/matches/:id/join", matchService.JoinMatch)
	app.Post("/matches/:id/move", matchService.MakeMove)
	app.Post("/matches/:id/abandon", matchService.AbandonMatch)

	// 🔐 Admin routes, shared secret
	admin := app.Group("/admin", middleware.AdminKeyMiddleware(adminKey))
	admin.Post("/cleanup", matchService.CleanupAll)
	admin.Post("/reprobe", matchService.Reprobe)
}
