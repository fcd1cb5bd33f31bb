package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"textgate/internal/dispatch"
	"textgate/internal/handlers"
	"textgate/internal/metrics"
	"textgate/internal/middleware"
)

// SetupRouter wires middleware and routes. Generation requests get a long
// request timeout because a dispatch may ride out several retries.
func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, gen *handlers.GenerateHandler, dispatcher *dispatch.Dispatcher) {
	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(middleware.MaxBodySize(2 * 1024 * 1024)) // 2 MB max body

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", gen.Generate)
		r.Post("/generate/batch", gen.GenerateBatch)
		r.Get("/models", gen.ListModels)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Readiness includes per-backend health so a dead runtime is visible
	// without a paid generation call.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		health := dispatcher.HealthCheck(r.Context())
		body := make(map[string]string, len(health))
		ready := true
		for backend, err := range health {
			if err != nil {
				ready = false
				body[backend] = err.Error()
			} else {
				body[backend] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	r.Handle("/metrics", metrics.Handler())
}
