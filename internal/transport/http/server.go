// Package http is the thin transport shell around internal/engine: Echo
// routes for session lifecycle, SSE event streaming, report/file
// retrieval, and the /toolcards discovery endpoint, guarded by a single
// static bearer token for CLI-to-server loopback.
package http

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepresearch/engine/internal/capability"
	"github.com/deepresearch/engine/internal/engine"
	"github.com/deepresearch/engine/internal/toolerr"
)

// Server wires the Echo instance to an Engine instance and an optional
// tool-card registry.
type Server struct {
	echo     *echo.Echo
	engine   *engine.Engine
	registry *capability.Registry
	logger   *log.Logger
}

// New builds a Server. registry may be nil, in which case /toolcards
// returns 404.
func New(eng *engine.Engine, registry *capability.Registry, authToken string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		if te, ok := toolerr.As(err); ok {
			code = statusForToolErr(te.ErrCode)
			msg = te.Message
		}
		req := c.Request()
		logger.Printf("%d %s %s: %v", code, req.Method, req.URL.Path, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s := &Server{echo: e, engine: eng, registry: registry, logger: logger}

	api := e.Group("/api", bearerAuth(authToken))
	h := &sessionHandler{engine: eng}
	api.POST("/sessions", h.create)
	api.GET("/sessions/:id", h.status)
	api.GET("/sessions/:id/events", h.events)
	api.GET("/sessions/:id/report", h.report)
	api.GET("/sessions/:id/files/*", h.file)
	api.GET("/sessions/:id/flow", h.flow)
	api.POST("/sessions/:id/cancel", h.cancel)

	e.GET("/toolcards", s.toolCards)

	return s
}

// Start blocks serving on addr until the process is signalled to stop.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) toolCards(c echo.Context) error {
	if s.registry == nil {
		return echo.NewHTTPError(http.StatusNotFound, "tool card registry not configured")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": s.registry.All()})
}

func statusForToolErr(code toolerr.Code) int {
	switch code {
	case toolerr.FileNotFound, toolerr.ImageNotFound, toolerr.AgentNotFound:
		return http.StatusNotFound
	case toolerr.FileAccessDenied:
		return http.StatusForbidden
	case toolerr.ValidationFailed, toolerr.AgentLimitReached, toolerr.ToolCallLimitReached:
		return http.StatusBadRequest
	case toolerr.SearchRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
