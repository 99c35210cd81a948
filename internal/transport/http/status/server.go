// Package status serves the read-only status API over gin.
package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"keel/internal/config"
	"keel/internal/logger"
	"keel/internal/order"
	"keel/internal/position"
	"keel/internal/store"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg       config.HTTPConfig
	engine    *gin.Engine
	orders    *order.Manager
	positions *position.Manager
	outcomes  *store.Store
}

func NewServer(cfg config.HTTPConfig, orders *order.Manager, positions *position.Manager, outcomes *store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:       cfg,
		engine:    engine,
		orders:    orders,
		positions: positions,
		outcomes:  outcomes,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.engine.Group("/api")
	api.GET("/orders", s.handleOrders)
	api.GET("/positions", s.handlePositions)
	api.GET("/statistics", s.handleStatistics)
	api.GET("/outcomes", s.handleOutcomes)
}

func (s *Server) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.orders.OpenOrders()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.positions.Snapshot()})
}

func (s *Server) handleStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"orders":    s.orders.Statistics(),
		"positions": s.positions.Statistics(),
	})
}

func (s *Server) handleOutcomes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.outcomes.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": rows})
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("status API listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
