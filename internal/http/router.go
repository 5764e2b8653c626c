package http

import (
	"log"
	"net/http"

	"github.com/sortify-app/sortify-api/internal/auth"
	"github.com/sortify-app/sortify-api/internal/businesstype"
	"github.com/sortify-app/sortify-api/internal/config"
	"github.com/sortify-app/sortify-api/internal/httputil"
	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/oauth"
	"github.com/sortify-app/sortify-api/internal/onboarding"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth          *auth.Handler
	OAuth         *oauth.Handler
	Onboarding    *onboarding.Handler
	BusinessTypes *businesstype.Handler
	Metrics       http.Handler
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, h Handlers, authMiddleware *auth.Middleware, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders)               // Security headers on all responses
	r.Use(middleware.Recoverer)          // Recover from panics
	r.Use(middleware.RequestID)          // Add request ID
	r.Use(middleware.RealIP)             // Set RemoteAddr to real IP
	r.Use(logging.RequestLogger(logger)) // Structured logging with request context
	r.Use(middleware.Compress(5))        // Compress responses

	// Public routes
	r.Get("/health", handleHealth)
	r.Handle("/metrics", h.Metrics)

	// Swagger UI - only in development
	// Production builds will not have this route at all
	if cfg.Server.IsDevelopment() {
		log.Println("Swagger UI enabled at /swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.Post("/refresh", h.Auth.Refresh)
		r.Post("/logout", h.Auth.Logout)
		r.Get("/verify-email", h.Auth.VerifyEmail)
		r.Post("/forgot-password", h.Auth.ForgotPassword)
		r.Post("/reset-password", h.Auth.ResetPassword)
		r.Post("/resend-verification", h.Auth.ResendVerificationEmail)
	})

	// Provider callbacks are public: the browser arrives here from the
	// provider's redirect, and the user is identified by the state value.
	r.Get("/oauth/{provider}/callback", h.OAuth.Callback)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Get("/oauth/{provider}", h.OAuth.Connect)
		r.Post("/oauth/{provider}/disconnect", h.OAuth.Disconnect)

		r.Get("/business-types", h.BusinessTypes.List)

		r.Route("/onboarding", func(r chi.Router) {
			r.Get("/status", h.Onboarding.GetStatus)
			r.Post("/{stepId}", h.Onboarding.CompleteStep)
			r.Post("/{stepId}/skip", h.Onboarding.SkipStep)
		})
	})

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}
