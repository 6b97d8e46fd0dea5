// Package health serves the liveness and metrics endpoints of the monitor.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/FireKid846/whatsapp-web/internal/monitor"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Source reports the monitor's current occupancy.
type Source interface {
	Stats() monitor.Stats
}

// StartOpts holds configuration for the health server.
type StartOpts struct {
	Source Source
	Port   int
	Logger zerolog.Logger
	// Now overrides the timestamp clock in tests.
	Now func() time.Time
}

// Status is the body of GET /health.
type Status struct {
	Status          string  `json:"status"`
	ActiveSessions  int     `json:"activeSessions"`
	ProcessingQueue int     `json:"processingQueue"`
	Uptime          float64 `json:"uptime"`
	Timestamp       string  `json:"timestamp"`
}

// Start launches the health HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("health: source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 3000
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return fmt.Errorf("health: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	opts.Logger.Info().Int("port", opts.Port).Msg("health server listening")
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine behind Start.
func NewRouter(opts StartOpts) *gin.Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	status := handleStatus(opts.Source, now)
	router.GET("/", status)
	router.GET("/health", status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return router
}

func handleStatus(src Source, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := src.Stats()
		c.JSON(http.StatusOK, Status{
			Status:          "running",
			ActiveSessions:  st.Active,
			ProcessingQueue: st.Pending,
			Uptime:          st.Uptime.Seconds(),
			Timestamp:       now().UTC().Format(time.RFC3339),
		})
	}
}
