// Package server exposes pipeline control, queries, the subscriber
// stream and Prometheus metrics over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/telemetryd/internal/broadcast"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/generator"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/metrics"
	"codeberg.org/mutker/telemetryd/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the pipeline surface the server drives.
type Controller interface {
	Start() generator.Status
	Stop() generator.Status
	Pause() generator.Status
	Resume() generator.Status
	SetStressMode(name string) (generator.Status, error)
	Status() generator.Status
	Connections() pipeline.Connections
	Metrics() metrics.Snapshot
	Health() pipeline.Health
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

type Server struct {
	config   *serverConfig
	ctrl     Controller
	router   *gin.Engine
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewServer(ctrl Controller, options ...ConfigOption) (*Server, error) {
	config := &serverConfig{
		Address:         DefaultAddress,
		PingInterval:    defaultPingInterval,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		Logger:          logger.Nop(),
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(newCollector(ctrl)); err != nil {
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(config.Logger))

	server := &Server{
		config:   config,
		ctrl:     ctrl,
		router:   router,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: config.Logger,
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.ctrl.Health())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.router.GET("/ws", s.handleStream)

	api := s.router.Group("/api")
	{
		sim := api.Group("/simulator")
		sim.POST("/start", s.control(s.ctrl.Start))
		sim.POST("/stop", s.control(s.ctrl.Stop))
		sim.POST("/pause", s.control(s.ctrl.Pause))
		sim.POST("/resume", s.control(s.ctrl.Resume))
		sim.POST("/stress/:mode", s.handleStressMode)
		sim.GET("/status", s.control(s.ctrl.Status))

		api.GET("/udp/connections", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.ctrl.Connections())
		})
		api.GET("/metrics", func(c *gin.Context) {
			c.JSON(http.StatusOK, s.ctrl.Metrics())
		})
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// control adapts an idempotent generator operation to a handler that
// replies with the resulting status.
func (*Server) control(op func() generator.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": op()})
	}
}

func (s *Server) handleStressMode(c *gin.Context) {
	st, err := s.ctrl.SetStressMode(c.Param("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":    false,
			"error":      err.Error(),
			"code":       errors.CodeOf(err),
			"validModes": generator.ValidModes(),
			"status":     st,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "status": st})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("address", s.config.Address).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- errors.New().Wrap(errors.ErrBindFailed, err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}
