package routes

import (
	"net/http"
	"time"

	"github.com/MoSam007/MicasaWeb/app"
	"github.com/MoSam007/MicasaWeb/middleware"
	"github.com/MoSam007/MicasaWeb/models"
	"github.com/MoSam007/MicasaWeb/utils"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const defaultRequestTimeout = 30 * time.Second

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	requestTimeout := deps.Config.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", deps.Config.Auth.ProviderHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every request is authenticated when it carries a token; guards decide per route.
	r.Use(deps.AuthMiddleware.Authenticate)

	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/status", deps.StatusHandler.HandleStatus)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)

			r.Get("/me", deps.UserHandler.HandleMe)
			r.Put("/me/role", deps.UserHandler.HandleChangeOwnRole)
			r.Get("/{uid}", deps.UserHandler.HandleGetUser)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(models.RoleAdmin))
				r.Get("/", deps.UserHandler.HandleSearch)
				r.Get("/export", deps.UserHandler.HandleExport)
				r.Put("/{uid}/role", deps.UserHandler.HandleChangeRole)
				r.Patch("/{uid}/status", deps.UserHandler.HandleSetStatus)
				r.Post("/{uid}/relink", deps.UserHandler.HandleRelink)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteCodedError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}
