package routes

import (
	"github.com/Fecu3799/app-fuchibol-sub000/handlers"
	"github.com/Fecu3799/app-fuchibol-sub000/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	matchHandler *handlers.MatchHandler,
	participationHandler *handlers.ParticipationHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Post("/auth/register", authHandler.Register)
	router.Post("/auth/login", authHandler.Login)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", userHandler.GetMe)
			r.Patch("/me", userHandler.UpdateMe)
			r.Post("/me/avatar", userHandler.UploadAvatar)
			r.Get("/{id}", userHandler.GetUserByID)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", matchHandler.CreateMatch)
			r.Get("/", matchHandler.ListMatches)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", matchHandler.GetMatch)
				r.Patch("/", matchHandler.UpdateMatch)
				r.Post("/cancel", matchHandler.CancelMatch)
				r.Post("/lock", matchHandler.LockMatch)
				r.Post("/unlock", matchHandler.UnlockMatch)

				r.Post("/confirm", participationHandler.Confirm)
				r.Post("/decline", participationHandler.Decline)
				r.Post("/withdraw", participationHandler.Withdraw)
				r.Post("/leave", participationHandler.Leave)
				r.Post("/invite", participationHandler.Invite)

				r.Put("/admins/{userID}", participationHandler.PromoteAdmin)
				r.Delete("/admins/{userID}", participationHandler.DemoteAdmin)
			})
		})

		r.Get("/ws/matches/{matchID}", webSocketHandler.ServeWs)
	})
}
