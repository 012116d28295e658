package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hanna4328/chat-bot/internal/handlers"
	"github.com/hanna4328/chat-bot/internal/middleware"
)

func New(
	generateHandler *handlers.GenerateHandler,
	modelHandler *handlers.ModelHandler,
	limiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, http.StatusNotFound, "NOT_FOUND", "Not found", r)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", r)
	})

	// Health check
	r.Get("/health", handlers.Health)
	r.Get("/", handlers.Root)

	r.Route("/api", func(r chi.Router) {
		// The handler answers non-POST methods itself with a JSON 405.
		r.With(limiter.Middleware).HandleFunc("/generate", generateHandler.Generate)
		r.Get("/models", modelHandler.List)
	})

	return r
}

func writeRouteError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": r.Header.Get(middleware.RequestIDHeader),
		},
	})
}
