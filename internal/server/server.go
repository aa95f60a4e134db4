// Package server exposes the agent pipeline over HTTP: a synchronous chat
// endpoint, an SSE streaming variant, and run archive lookups.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/threadr-ai/threadr/internal/agent"
	"github.com/threadr-ai/threadr/internal/store"
	"github.com/threadr-ai/threadr/internal/workflow"
)

// RunnerFactory builds a Runner whose orchestrator additionally emits to the
// given sink. The streaming endpoint uses it to observe one run's transitions
// without seeing anyone else's.
type RunnerFactory func(sink workflow.TraceSink) (*agent.Runner, error)

// Options configures the HTTP server.
type Options struct {
	Address    string
	JWTSecret  string
	RunTimeout time.Duration
}

// Server hosts the HTTP API.
type Server struct {
	echo    *echo.Echo
	factory RunnerFactory
	archive *store.RunArchive
	opts    Options
	logger  *log.Logger
}

// New builds the server and registers routes. The archive may be nil, which
// disables the run lookup endpoints.
func New(opts Options, factory RunnerFactory, archive *store.RunArchive, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}
	if opts.Address == "" {
		opts.Address = ":8090"
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{echo: e, factory: factory, archive: archive, opts: opts, logger: logger}

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api")
	if opts.JWTSecret != "" {
		api.Use(AuthMiddleware(opts.JWTSecret))
	}
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleChatStream)
	api.GET("/runs", s.handleRecentRuns)
	api.GET("/runs/:id", s.handleGetRun)

	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.opts.Address)
	if err := s.echo.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecentRuns(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run archive not configured")
	}
	n, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := s.archive.RecentRuns(c.Request().Context(), n)
	if err != nil {
		s.logger.Printf("list runs: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "listing runs failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": records})
}

func (s *Server) handleGetRun(c echo.Context) error {
	if s.archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run archive not configured")
	}
	rec, err := s.archive.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}
