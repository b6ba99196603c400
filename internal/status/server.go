// Package status serves health, counters and Prometheus metrics for a
// running monitor over HTTP.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/btmon/internal/monitor"
	"github.com/danmuck/btmon/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// StatsSource is the part of a monitor the server reads.
type StatsSource interface {
	Stats() monitor.Stats
}

type Info struct {
	Transport string `json:"transport"`
	Ident     string `json:"ident"`
	Version   string `json:"version"`
}

type Server struct {
	addr     string
	info     Info
	stats    StatsSource
	logger   zerolog.Logger
	router   *gin.Engine
	appeared time.Time
}

func New(addr string, info Info, stats StatsSource, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, "/metrics"))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:     addr,
		info:     info,
		stats:    stats,
		logger:   logger.With().Str("component", "status").Logger(),
		router:   r,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"transport": s.info.Transport,
			"ident":     s.info.Ident,
			"version":   s.info.Version,
		})
	})

	s.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.stats.Stats())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
