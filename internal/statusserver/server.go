// Package statusserver exposes a running load test over HTTP: liveness, a
// Prometheus scrape endpoint and a JSON progress snapshot.
package statusserver

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parkhub/sp-loadtesting/internal/metrics"
	"github.com/parkhub/sp-loadtesting/internal/runner"
)

type ProgressSource interface {
	Progress() runner.Progress
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
	runID  string
}

func New(addr, runID string, reg *metrics.Registry, progress ProgressSource, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	_ = r.SetTrustedProxies(nil)

	s := &Server{
		engine: r,
		logger: logger,
		runID:  runID,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})))
	r.GET("/progress", func(c *gin.Context) {
		c.JSON(http.StatusOK, progress.Progress())
	})
	r.GET("/summary", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"run_id": s.runID, "metrics": reg.Snapshot()})
	})

	return s
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"run_id": s.runID,
	})
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves in the background. Listen errors other than a clean shutdown
// are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down status server")
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("status request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
