package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meritpath/worker-service/internal/api/handler"
	"github.com/meritpath/worker-service/internal/worker"
)

// HealthChecker is a dependency checked by /health
type HealthChecker = handler.HealthChecker

// StatusReporter exposes a running worker's state
type StatusReporter interface {
	Status() worker.Status
}

// SetupWorkerRouter serves the worker process's health and status endpoints
func SetupWorkerRouter(logger *slog.Logger, w StatusReporter, checks ...HealthChecker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))

	r.GET("/health", healthHandler("worker-service", checks...))

	r.GET("/status", func(c *gin.Context) {
		status := w.Status()
		code := http.StatusOK
		if !status.Running {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	return r
}
