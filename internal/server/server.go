package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crestapps/tabflow/internal/pipeline/cache"
	"github.com/crestapps/tabflow/internal/pipeline/config"
	"github.com/crestapps/tabflow/internal/pipeline/core"
	"github.com/crestapps/tabflow/internal/pipeline/telemetry"
)

// Run builds the full pipeline from configuration and serves the HTTP API
// until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tele := telemetry.NewTelemetry(cfg.Telemetry)

	var provider core.CompletionProvider
	if len(cfg.LLM.Providers) > 0 {
		p, err := core.NewCompletionProvider(cfg.LLM)
		if err != nil {
			return err
		}
		provider = p
	}

	// the cache is optional: a missing or unreachable redis degrades to
	// recomputation, it never blocks startup beyond the ping
	var resultCache core.ResultCache
	if cfg.Cache.Enabled {
		rdb := cache.NewRedisClient(cfg.Storage.Redis)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			baseLogger.Printf("redis unavailable (%s:%d), batch cache disabled: %v",
				cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		} else {
			resultCache = cache.NewBatchResultCache(cache.NewRedisByteCache(rdb), cfg.Cache, nil)
		}
	}

	pipeline := core.NewPipeline(cfg, provider, resultCache, tele, nil)

	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	api.Use(authMiddleware(secret))

	h := &PipelineHandler{Pipeline: pipeline, Telemetry: tele}
	api.POST("/process", h.Process)
	api.GET("/status/:id", h.Status)
	api.GET("/metrics/summary", h.MetricsSummary)

	if addr == "" {
		addr = cfg.Server.Listen
	}
	return e.Start(addr)
}

// PipelineHandler exposes pipeline runs over HTTP
type PipelineHandler struct {
	Pipeline  *core.Pipeline
	Telemetry *telemetry.Telemetry
}

// Process runs one request synchronously and returns the full result
func (h *PipelineHandler) Process(c echo.Context) error {
	var req core.ProcessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" && len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt or documents required")
	}

	result, err := h.Pipeline.Process(c.Request().Context(), &req)
	if err != nil {
		if c.Request().Context().Err() != nil {
			return echo.NewHTTPError(http.StatusRequestTimeout, "request cancelled")
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Status reports the tracked state of a run
func (h *PipelineHandler) Status(c echo.Context) error {
	id := c.Param("id")
	st, ok := h.Pipeline.Status(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	return c.JSON(http.StatusOK, st)
}

// MetricsSummary returns the aggregate in-process metrics snapshot
func (h *PipelineHandler) MetricsSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.GetMetrics())
}
