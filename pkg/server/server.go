// Package server exposes the management and agent-facing HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/pkg/config"
	"github.com/fwcentral/fwcentral/pkg/dispatcher"
	"github.com/fwcentral/fwcentral/pkg/events"
	"github.com/fwcentral/fwcentral/pkg/reconciler"
	"github.com/fwcentral/fwcentral/pkg/registry"
	"github.com/fwcentral/fwcentral/pkg/store"
	"github.com/fwcentral/fwcentral/internal/version"
)

// Server wires the HTTP layer over the registry, dispatcher and reconciler.
type Server struct {
	settings   config.ServerSettings
	st         *store.Store
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	reconciler *reconciler.Reconciler
	hub        *events.Hub
	engine     *gin.Engine
}

// New builds the server and its routes.
func New(settings config.ServerSettings, st *store.Store, reg *registry.Registry, disp *dispatcher.Dispatcher, rec *reconciler.Reconciler, hub *events.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		settings:   settings,
		st:         st,
		registry:   reg,
		dispatcher: disp,
		reconciler: rec,
		hub:        hub,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1")

	// agent-facing endpoints authenticate per request with agent credentials
	v1.POST("/agents/register", s.registerAgent)
	v1.POST("/agents/checkin", s.checkin)

	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})

	mgmt := v1.Group("", s.requireAPIKey())
	{
		mgmt.GET("/agents", s.listAgents)
		mgmt.GET("/agents/:id", s.getAgent)
		mgmt.PUT("/agents/:id", s.updateAgent)
		mgmt.DELETE("/agents/:id", s.deleteAgent)
		mgmt.POST("/agents/:id/approve", s.approveAgent)
		mgmt.POST("/agents/:id/reject", s.rejectAgent)
		mgmt.POST("/agents/:id/test-connection", s.testConnection)
		mgmt.POST("/agents/:id/sync", s.syncAgent)
		mgmt.POST("/agents/:id/certificate", s.regenerateCertificate)

		mgmt.POST("/agents/:id/commands", s.dispatchCommand)
		mgmt.GET("/agents/:id/commands", s.listCommands)
		mgmt.GET("/commands/:id", s.getCommand)
		mgmt.POST("/commands/:id/cancel", s.cancelCommand)

		mgmt.GET("/agents/:id/zones", s.listZones)
		mgmt.GET("/agents/:id/rules", s.listRules)

		mgmt.GET("/connections", s.listConnections)
		mgmt.POST("/connections", s.createConnection)
		mgmt.DELETE("/connections/:id", s.deleteConnection)

		mgmt.GET("/status", s.statusSummary)
		mgmt.GET("/events", s.serveEvents)
	}
}

// requireAPIKey guards management routes. With no API key configured the
// check is disabled, which suits local single-operator deployments.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.settings.APIKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if key == "" {
			// websocket clients cannot set headers from browsers
			key = c.Query("api_key")
		}
		if key != s.settings.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.settings.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.settings.Listen).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
