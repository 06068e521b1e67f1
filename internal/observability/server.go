// Package observability exposes link counters over HTTP: prometheus metrics,
// a health probe and a JSON view of every tracked link.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/mavwire/internal/logging"
)

const version = "0.1.0"

type Server struct {
	name     string
	router   *gin.Engine
	appeared time.Time
}

func NewServer(name string) *Server {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logging.Component("http")))
	r.Use(RequestMetricsMiddleware(name))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{name: name, router: r, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.name,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/links", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"links": LinkStats()})
	})

	s.router.GET("/links/:name", func(c *gin.Context) {
		name := c.Param("name")
		for _, ns := range LinkStats() {
			if ns.Name == name {
				c.JSON(http.StatusOK, ns)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log := logging.Component("http")
	log.Info().Str("addr", addr).Msg("observability server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
