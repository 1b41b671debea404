package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dock108/aicli-companion/internal/api/middleware"
	apperrors "github.com/dock108/aicli-companion/internal/errors"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/gin-gonic/gin"
)

type detectRequest struct {
	Port int `json:"port"`
}

type healthResponse struct {
	Port    int    `json:"port"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(c *gin.Context) {
	var req supervisor.StartOptions
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		renderError(c, apperrors.BadRequest("port must be between 1 and 65535", nil))
		return
	}
	if s.startDefaults != nil {
		s.startDefaults(&req)
	}
	// A dropped client must not turn the health probe into a false negative.
	st, err := s.ctrl.Start(context.WithoutCancel(c.Request.Context()), req)
	s.record("start", err)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleStop(c *gin.Context) {
	var req supervisor.StopOptions
	if !bindOptionalJSON(c, &req) {
		return
	}
	// Stop must finish even if the client goes away.
	err := s.ctrl.Stop(context.WithoutCancel(c.Request.Context()), req)
	s.record("stop", err)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleHealth(c *gin.Context) {
	port, ok := queryPort(c, s.ctrl.DefaultPort())
	if !ok {
		return
	}
	healthy := s.ctrl.CheckHealth(c.Request.Context(), port)
	c.JSON(http.StatusOK, healthResponse{Port: port, URL: s.ctrl.HealthURL(port), Healthy: healthy})
}

func (s *Server) handleDetect(c *gin.Context) {
	var req detectRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		renderError(c, apperrors.BadRequest("port must be between 1 and 65535", nil))
		return
	}
	st := s.ctrl.DetectRunning(c.Request.Context(), req.Port)
	s.record("detect", nil)
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleLogs(c *gin.Context) {
	entries := s.ctrl.Logs()
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			renderError(c, apperrors.BadRequest("limit must be a non-negative integer", err))
			return
		}
		if n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleClearLogs(c *gin.Context) {
	s.ctrl.ClearLogs()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleNetwork(c *gin.Context) {
	port := s.ctrl.Status().Port
	if port == 0 {
		port = s.ctrl.DefaultPort()
	}
	info, err := s.networkInfo(port)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			result = appErr.Code
		}
	}
	middleware.RecordSupervisorOperation(op, result)
	st := s.ctrl.Status()
	middleware.SetServerRunning(st.Running, st.External)
}

// bindOptionalJSON decodes the body when one is present. An empty body
// leaves dst at its zero value.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		renderError(c, apperrors.BadRequest("invalid JSON body", err))
		return false
	}
	return true
}

func queryPort(c *gin.Context, fallback int) (int, bool) {
	raw := strings.TrimSpace(c.Query("port"))
	if raw == "" {
		return fallback, true
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		renderError(c, apperrors.BadRequest("port must be between 1 and 65535", err))
		return 0, false
	}
	return port, true
}

func renderError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.New(http.StatusInternalServerError, "internal", err.Error(), err)
	}
	_ = c.Error(err)
	c.Data(appErr.HTTPStatusCode, "application/json; charset=utf-8", appErr.ToJSON())
	c.Abort()
}
