package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"contentgraph/internal/metrics"
	"contentgraph/internal/service"
)

// RouterConfig collects what the router serves. Events and Metrics are
// optional.
type RouterConfig struct {
	Graph   *service.GraphService
	Updater Updater
	Trigger Trigger
	Events  http.Handler
	Metrics *metrics.Collector
	Secret  string
	Logger  *zap.Logger
}

// NewRouter wires every route
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.Named("http")
	graph := NewGraphHandler(cfg.Graph, logger)
	sync := NewSyncHandler(cfg.Updater, cfg.Trigger, cfg.Secret, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger, cfg.Metrics))

	router.Post("/webhook/update", sync.Update)

	router.Route("/api", func(r chi.Router) {
		r.Post("/sync", sync.Sync)
		r.Get("/status", sync.Status)
		r.Get("/nodes", graph.ListNodes)
		r.Get("/nodes/{id}", graph.GetNode)
		r.Get("/graph", graph.GetGraph)
		r.Get("/export", graph.Export)
		if cfg.Events != nil {
			r.Get("/events", cfg.Events.ServeHTTP)
		}
	})

	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, map[string]string{"status": "ok"}, http.StatusOK)
	})

	return router
}

// requestLogger logs each request and records it under its route pattern
func requestLogger(logger *zap.Logger, m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTP(r.Method, route, status, time.Since(start))
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
