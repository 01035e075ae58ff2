// Package server hosts the local overlay player page plus the health and
// metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
)

// playerPage is the overlay document the OBS browser source loads. The
// clip id arrives as a query parameter; the embed player does the rest.
const playerPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Cliparino</title>
<style>
  html, body { margin: 0; padding: 0; background: transparent; overflow: hidden; }
  iframe { border: none; width: 100vw; height: 100vh; }
</style>
</head>
<body>
<script>
  const params = new URLSearchParams(window.location.search);
  const clip = params.get("clip");
  if (clip) {
    const frame = document.createElement("iframe");
    frame.src = "https://clips.twitch.tv/embed?clip=" + encodeURIComponent(clip)
      + "&parent=" + window.location.hostname
      + "&autoplay=" + (params.get("autoplay") || "true");
    frame.allow = "autoplay";
    document.body.appendChild(frame);
  }
</script>
</body>
</html>`

// Server is the local HTTP surface. It never faces the public internet;
// it binds to the configured port on all interfaces so OBS can reach it.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *logger.Logger

	shutdownTimeout time.Duration
}

// New builds the server around the health reporter and metrics registry.
func New(port int, reporter *health.Reporter, registry *prometheus.Registry, shutdownTimeout time.Duration, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/player", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(playerPage))
	})

	engine.GET("/health", func(c *gin.Context) {
		components := reporter.Snapshot()
		status := http.StatusOK
		overall := "healthy"
		for _, h := range components {
			if h.Status == health.StatusUnhealthy {
				status = http.StatusServiceUnavailable
				overall = "unhealthy"
				break
			}
			if h.Status == health.StatusDegraded {
				overall = "degraded"
			}
		}
		c.JSON(status, gin.H{
			"status":     overall,
			"instance":   logger.GetInstanceID(),
			"components": components,
		})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: engine,
		},
		logger:          log.WithComponent("http_server"),
		shutdownTimeout: shutdownTimeout,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
