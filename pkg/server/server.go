// Package server provides the HTTP surface for boilerd.
//
// This package implements a graceful HTTP server with Echo router,
// health and metrics endpoints, and context-aware shutdown. Domain
// routes are thin adapters over the resolution engine, the session
// store and the offline cache.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hearthlabs/boilerd/internal/config"
	"github.com/hearthlabs/boilerd/internal/faultcode"
	"github.com/hearthlabs/boilerd/internal/manufacturer"
	"github.com/hearthlabs/boilerd/internal/offline"
	"github.com/hearthlabs/boilerd/internal/session"
)

// Deps are the domain services the server exposes. Normalizer and Engine
// are required; Sessions and Offline routes are only registered when the
// corresponding service is present.
type Deps struct {
	Normalizer *manufacturer.Normalizer
	Engine     *faultcode.Engine
	Sessions   *session.Store
	Offline    *offline.Cache
}

// Server represents the HTTP server.
type Server struct {
	config *config.Config
	echo   *echo.Echo
	logger *zap.Logger
	deps   Deps
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer creates a new HTTP server with the given configuration.
//
// The server includes:
//   - Echo router for HTTP routing
//   - Standard middleware (logger, recoverer, request ID)
//   - Health check endpoint at GET /health
//   - Prometheus metrics at GET /metrics
//   - Graceful shutdown support
func NewServer(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config: cfg,
		echo:   e,
		logger: logger,
		deps:   deps,
	}

	s.registerRoutes()

	return s
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/manufacturers", s.handleManufacturers)
	api.GET("/manufacturers/normalize", s.handleNormalize)
	api.GET("/manufacturers/:key/faultcodes", s.handleManufacturerFaultCodes)
	api.GET("/faultcodes/:code", s.handleFaultCodeLookup)

	if s.deps.Sessions != nil {
		api.POST("/sessions", s.handleSessionCreate)
		api.GET("/sessions/:id", s.handleSessionGet)
		api.PATCH("/sessions/:id", s.handleSessionPatch)
		api.DELETE("/sessions/:id", s.handleSessionDelete)
	}

	if s.deps.Offline != nil {
		api.POST("/offline/faultcodes", s.handleOfflineAdd(offline.KindFaultCode))
		api.GET("/offline/faultcodes/:id", s.handleOfflineGet(offline.KindFaultCode))
		api.POST("/offline/manuals", s.handleOfflineAdd(offline.KindManual))
		api.GET("/offline/manuals/:id", s.handleOfflineGet(offline.KindManual))
		api.GET("/offline/status", s.handleOfflineStatus)
	}
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "boilerd",
	})
}

// handleManufacturers handles GET /api/manufacturers.
func (s *Server) handleManufacturers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"manufacturers": manufacturer.Known(),
	})
}

// handleNormalize handles GET /api/manufacturers/normalize?q=.
func (s *Server) handleNormalize(c echo.Context) error {
	query := c.QueryParam("q")
	key := s.deps.Normalizer.Normalize(query)
	return c.JSON(http.StatusOK, map[string]any{
		"input":      query,
		"key":        key,
		"recognized": key != "",
	})
}

// handleFaultCodeLookup handles GET /api/faultcodes/:code?manufacturer=.
func (s *Server) handleFaultCodeLookup(c echo.Context) error {
	code := c.Param("code")
	manuf := c.QueryParam("manufacturer")

	result, err := s.deps.Engine.Find(c.Request().Context(), code, manuf)
	if err != nil {
		s.logger.Error("fault code lookup failed",
			zap.String("code", code),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fault code datasets unavailable")
	}

	return c.JSON(http.StatusOK, result)
}

// handleManufacturerFaultCodes handles GET /api/manufacturers/:key/faultcodes.
func (s *Server) handleManufacturerFaultCodes(c echo.Context) error {
	key := c.Param("key")
	if !manufacturer.IsCanonical(s.deps.Normalizer.Normalize(key)) {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("unknown manufacturer: %q", key))
	}

	records, err := s.deps.Engine.AllForManufacturer(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "fault code datasets unavailable")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"manufacturer": s.deps.Normalizer.Normalize(key),
		"fault_codes":  records,
	})
}

// sessionCreateRequest is the optional body for POST /api/sessions.
type sessionCreateRequest struct {
	SessionID    string `json:"session_id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SystemType   string `json:"system_type"`
	GCNumber     string `json:"gc_number"`
}

// handleSessionCreate handles POST /api/sessions.
func (s *Server) handleSessionCreate(c echo.Context) error {
	var req sessionCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	seed := &session.State{
		Manufacturer: s.deps.Normalizer.Normalize(req.Manufacturer),
		Model:        req.Model,
		SystemType:   req.SystemType,
		GCNumber:     req.GCNumber,
	}

	state := s.deps.Sessions.Create(c.Request().Context(), id, seed)
	return c.JSON(http.StatusCreated, state)
}

// handleSessionGet handles GET /api/sessions/:id.
func (s *Server) handleSessionGet(c echo.Context) error {
	state := s.deps.Sessions.Context(c.Request().Context(), c.Param("id"))
	return c.JSON(http.StatusOK, state)
}

// handleSessionPatch handles PATCH /api/sessions/:id.
func (s *Server) handleSessionPatch(c echo.Context) error {
	var patch session.Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patch body")
	}

	state := s.deps.Sessions.Update(c.Request().Context(), c.Param("id"), patch)
	return c.JSON(http.StatusOK, state)
}

// handleSessionDelete handles DELETE /api/sessions/:id.
func (s *Server) handleSessionDelete(c echo.Context) error {
	s.deps.Sessions.Delete(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

// offlineAddRequest is the body for POST /api/offline/{faultcodes,manuals}.
type offlineAddRequest struct {
	ID           string          `json:"id"`
	Manufacturer string          `json:"manufacturer"`
	Payload      json.RawMessage `json:"payload"`
}

// handleOfflineAdd returns a handler storing a payload of the given kind.
func (s *Server) handleOfflineAdd(kind offline.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req offlineAddRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "id is required")
		}
		if len(req.Payload) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "payload is required")
		}

		key := s.deps.Normalizer.Normalize(req.Manufacturer)
		if err := s.deps.Offline.Add(kind, req.ID, req.Payload, key); err != nil {
			s.logger.Error("offline cache write failed",
				zap.String("kind", string(kind)),
				zap.String("id", req.ID),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusInsufficientStorage, "offline cache write failed")
		}

		return c.JSON(http.StatusCreated, map[string]any{"id": req.ID, "cached": true})
	}
}

// handleOfflineGet returns a handler fetching a payload of the given kind.
func (s *Server) handleOfflineGet(kind offline.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		payload, ok := s.deps.Offline.Get(kind, id)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound,
				fmt.Sprintf("not cached: %q", id))
		}
		return c.JSONBlob(http.StatusOK, payload)
	}
}

// handleOfflineStatus handles GET /api/offline/status.
func (s *Server) handleOfflineStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Offline.Status())
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// The server listens on the port specified in the configuration.
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout.
//
// Returns http.ErrServerClosed on graceful shutdown, or any other
// error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
