// Package health serves liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/divergent/internal/broker"
	"github.com/quantfold/divergent/internal/config"
)

// Pinger verifies database connectivity for the deep health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes /health, /health/deep and /metrics
type Server struct {
	router *broker.Router
	db     Pinger // nil in dev mode
	addr   string
	mode   string
	logger zerolog.Logger
	server *http.Server
}

// NewServer creates the health server
func NewServer(cfg *config.Config, router *broker.Router, db Pinger) *Server {
	return &Server{
		router: router,
		db:     db,
		addr:   fmt.Sprintf("%s:%d", cfg.Health.Host, cfg.Health.Port),
		mode:   cfg.Trading.Mode,
		logger: config.NewLogger("health"),
	}
}

// Handler builds the gin engine with all routes registered
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.loggerMiddleware())
	engine.Use(cors.Default())

	engine.GET("/health", s.handleHealth)
	engine.GET("/health/deep", s.handleDeepHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

// Start blocks serving HTTP until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("health server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleHealth is the cheap liveness probe
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"mode":   s.mode,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDeepHealth checks the database and every broker adapter. The
// broker probes are network calls, so they run concurrently.
func (s *Server) handleDeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	healthy := true
	components := gin.H{}
	var mu sync.Mutex

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			healthy = false
			components["database"] = gin.H{"status": "down", "error": err.Error()}
		} else {
			components["database"] = gin.H{"status": "ok"}
		}
	} else {
		components["database"] = gin.H{"status": "skipped"}
	}

	var g errgroup.Group
	for _, venue := range s.router.All() {
		g.Go(func() error {
			err := venue.CheckConnectivity(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				healthy = false
				components[venue.BrokerID()] = gin.H{"status": "down", "error": err.Error()}
			} else {
				components[venue.BrokerID()] = gin.H{"status": "ok"}
			}
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}

// loggerMiddleware logs each request through zerolog
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
