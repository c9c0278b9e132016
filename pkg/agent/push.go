package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/pkg/config"
	"github.com/fwcentral/fwcentral/pkg/model"
)

// PushServer is the agent-side HTTP listener for server_to_agent hosts. The
// central server pushes commands to /execute and probes /health.
type PushServer struct {
	settings config.AgentSettings
	executor *Executor
	engine   *gin.Engine
}

// NewPushServer builds the listener and its routes.
func NewPushServer(settings config.AgentSettings) *PushServer {
	gin.SetMode(gin.ReleaseMode)

	s := &PushServer{
		settings: settings,
		executor: NewExecutor(settings.CommandTimeout),
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.health)
	s.engine.POST("/execute", s.requireBearer(), s.execute)
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *PushServer) Handler() http.Handler { return s.engine }

func (s *PushServer) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if s.settings.APIKey == "" || token != s.settings.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"output":  "invalid or missing bearer token",
			})
			return
		}
		c.Next()
	}
}

func (s *PushServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.executor.Health(c.Request.Context()))
}

type executeRequest struct {
	Command    string         `json:"command" binding:"required"`
	Parameters map[string]any `json:"parameters"`
}

// execute runs one pushed command. Zone listings return structured dumps so
// the server can rebuild its mirror; everything else returns plain text.
func (s *PushServer) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "output": err.Error()})
		return
	}

	ctx := c.Request.Context()
	commandType := model.NormalizeCommandType(req.Command)

	switch commandType {
	case model.CmdGetZones, model.CmdGetRules:
		dumps, err := s.executor.ZoneDumps(ctx)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "output": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "output": dumps})
	default:
		res := s.executor.Execute(ctx, commandType, req.Parameters)
		c.JSON(http.StatusOK, gin.H{"success": res.Success, "output": res.Output})
	}
}

// Run serves until ctx is cancelled.
func (s *PushServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.settings.ListenPort),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.settings.ListenPort).Msg("Push listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
