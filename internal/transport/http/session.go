package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/deepresearch/engine/internal/engine"
	"github.com/deepresearch/engine/internal/session"
)

type sessionHandler struct {
	engine *engine.Engine
}

type createSessionRequest struct {
	Query         string                 `json:"query"`
	Clarification string                 `json:"clarification,omitempty"`
	Models        session.ModelSelection `json:"models"`
	APIKeys       map[string]string      `json:"apiKeys,omitempty"`
	Budget        session.Budget         `json:"budget,omitempty"`
}

type createSessionResponse struct {
	SessionID string         `json:"sessionId"`
	Status    session.Status `json:"status"`
}

// create starts a new research session and returns immediately; progress
// is observed through /events.
func (h *sessionHandler) create(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	sess, err := h.engine.CreateSession(req.Query, req.Clarification, req.Models, req.APIKeys, req.Budget)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID, Status: sess.Status})
}

func (h *sessionHandler) status(c echo.Context) error {
	sess, err := h.engine.Status(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

// events streams the session's event log as Server-Sent Events: the
// backlog first, then a live tail, one "event: <type>\ndata: <json>\n\n"
// frame per session.Event.
func (h *sessionHandler) events(c echo.Context) error {
	id := c.Param("id")
	ch, unsubscribe, err := h.engine.Subscribe(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	defer unsubscribe()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-ch:
			if !open {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := resp.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
				return nil
			}
			if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *sessionHandler) report(c echo.Context) error {
	report, err := h.engine.Report(c.Param("id"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
}

func (h *sessionHandler) file(c echo.Context) error {
	relPath := strings.TrimPrefix(c.Param("*"), "/")
	if relPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file path required")
	}
	b, err := h.engine.File(c.Param("id"), relPath)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, http.DetectContentType(b), b)
}

func (h *sessionHandler) flow(c echo.Context) error {
	graph, err := h.engine.FlowData(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, graph)
}

func (h *sessionHandler) cancel(c echo.Context) error {
	if err := h.engine.Cancel(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
