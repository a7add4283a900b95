// Package server implements the MediaShelf storage gateway HTTP server.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediashelf/mediashelf/internal/auth"
	"github.com/mediashelf/mediashelf/internal/config"
	gwerr "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/gateway"
	"github.com/mediashelf/mediashelf/internal/handlers"
	"github.com/mediashelf/mediashelf/internal/httputil"
	"github.com/mediashelf/mediashelf/internal/logging"
)

// readyTimeout bounds the backend probe behind /readyz.
const readyTimeout = 5 * time.Second

// Server is the storage gateway HTTP server.
type Server struct {
	cfg        *config.Config
	gw         *gateway.Gateway
	router     chi.Router
	api        huma.API
	object     *handlers.ObjectHandler
	ops        *handlers.APIHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health and readiness endpoints.
type HealthBody struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Backend string `json:"backend,omitempty" example:"s3" doc:"Storage backend in use"`
}

// HealthOutput is the Huma output struct for the health check endpoints.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server serving gw and wires up all routes on the Chi router
// with the Huma API.
func New(cfg *config.Config, gw *gateway.Gateway) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("MediaShelf Storage Gateway", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.Info.Description = "Streams media objects between MediaShelf clients and the object store."
	// First, so the schema link transformer sees the rewritten body.
	humaConfig.Transformers = append([]huma.Transformer{gatewayErrorTransformer}, humaConfig.Transformers...)
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		gw:     gw,
		router: router,
		api:    api,
		object: handlers.NewObjectHandler(gw),
		ops:    handlers.NewAPIHandler(gw),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> requestID -> cors -> auth -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = auth.Middleware(s.cfg.Server.APIToken)(handler)
	if len(s.cfg.Server.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "PUT", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range", httputil.RequestIDHeader},
			ExposedHeaders:   []string{"Accept-Ranges", "Content-Length", "Content-Range", "ETag", httputil.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		})(handler)
	}
	handler = requestID(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// Only header reads are bounded: object bodies stream for as long as they need.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns ok while the process is serving requests.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-ready",
		Method:      http.MethodGet,
		Path:        "/readyz",
		Summary:     "Readiness check",
		Description: "Returns ok once the storage backend answers a health probe.",
		Tags:        []string{"System"},
		Errors:      []int{http.StatusServiceUnavailable},
	}, s.ready)

	s.ops.Register(s.api)

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	// Object bodies bypass Huma and stream straight through.
	s.router.Put("/v1/objects/*", s.object.PutObject)
	s.router.Post("/v1/objects/*", s.object.PutObject)
	s.router.Get("/v1/objects/*", s.object.GetObject)
	s.router.Head("/v1/objects/*", s.object.HeadObject)
	s.router.Delete("/v1/objects/*", s.object.DeleteObject)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, gwerr.ErrNoSuchRoute)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, r, gwerr.ErrMethodNotAllowed)
	})
}

func (s *Server) ready(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := s.gw.HealthCheck(ctx); err != nil {
		logging.FromContext(ctx).Warn("Readiness probe failed", "backend", s.gw.Backend(), "error", err)
		e := gwerr.ErrNotReady.WithMessage("the %s backend is not reachable", s.gw.Backend())
		e.RequestID = logging.RequestID(ctx)
		return nil, e
	}
	return &HealthOutput{Body: HealthBody{Status: "ok", Backend: s.gw.Backend()}}, nil
}
