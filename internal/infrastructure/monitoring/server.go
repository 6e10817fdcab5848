package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Status is the point-in-time session snapshot served on /status.
type Status struct {
	State       string    `json:"state"`
	StreamID    string    `json:"stream_id,omitempty"`
	ViewerCount int       `json:"viewer_count"`
	OpenLinks   int       `json:"open_links"`
	Degraded    bool      `json:"degraded"`
	StartedAt   time.Time `json:"started_at"`
}

// Server exposes the agent's health, status and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

func NewServer(addr string, source func() Status, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, source())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: log.Sugar(),
	}
}

// Start serves until Shutdown. Errors other than a clean shutdown are logged,
// not returned; the status surface must never take the session down.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("status server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("status server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
