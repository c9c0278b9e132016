package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/registry"
	"github.com/fwcentral/fwcentral/pkg/store"
)

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func failStore(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, err)
		return
	}
	fail(c, http.StatusInternalServerError, err)
}

func (s *Server) registerAgent(c *gin.Context) {
	var req registry.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	resp, err := s.registry.Register(c.Request.Context(), &req)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

type checkinRequest struct {
	AgentID          string          `json:"agent_id" binding:"required"`
	SharedSecret     string          `json:"shared_secret" binding:"required"`
	OSInfo           string          `json:"os_info"`
	FirewalldVersion string          `json:"firewalld_version"`
	CommandResults   []commandResult `json:"command_results"`
}

type commandResult struct {
	CommandID string `json:"command_id" binding:"required"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
}

type checkinCommand struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

// checkin serves pull agents: authenticates, records the heartbeat, applies
// any reported results and hands back the pending queue oldest first.
func (s *Server) checkin(c *gin.Context) {
	var req checkinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()

	agent, err := s.registry.Authenticate(ctx, req.AgentID, req.SharedSecret)
	if err != nil {
		fail(c, http.StatusUnauthorized, err)
		return
	}

	if err := s.registry.Heartbeat(ctx, agent.ID, req.OSInfo, req.FirewalldVersion); err != nil {
		failStore(c, err)
		return
	}

	for _, result := range req.CommandResults {
		if err := s.dispatcher.ApplyResult(ctx, agent.ID, result.CommandID, result.Success, result.Output); err != nil {
			log.Warn().Err(err).
				Str("agent", agent.Hostname).
				Str("command", result.CommandID).
				Msg("Dropping unmatched command result")
		}
	}

	drained, err := s.dispatcher.Drain(ctx, agent.ID)
	if err != nil {
		failStore(c, err)
		return
	}
	commands := make([]checkinCommand, 0, len(drained))
	for _, cmd := range drained {
		commands = append(commands, checkinCommand{
			ID:         cmd.ID,
			Command:    string(cmd.CommandType),
			Parameters: cmd.Parameters,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                  true,
		"commands":                 commands,
		"checkin_interval_seconds": s.settings.CheckinInterval,
	})
}

func (s *Server) listAgents(c *gin.Context) {
	status := model.AgentStatus(c.Query("status"))
	agents, err := s.st.ListAgents(c.Request.Context(), status)
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) getAgent(c *gin.Context) {
	agent, err := s.st.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type updateAgentRequest struct {
	IPAddress           *string `json:"ip_address"`
	Port                *int    `json:"port"`
	SSHUsername         *string `json:"ssh_username"`
	SSHKeyPath          *string `json:"ssh_key_path"`
	SSHPassword         *string `json:"ssh_password"`
	AgentPort           *int    `json:"agent_port"`
	AgentAPIKey         *string `json:"agent_api_key"`
	SyncIntervalSeconds *int    `json:"sync_interval_seconds"`
	Description         *string `json:"description"`
}

// updateAgent patches reachability and scheduling fields. Identity, status
// and issued credentials are owned by the registry and cannot be set here.
func (s *Server) updateAgent(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	agent, err := s.st.GetAgent(ctx, c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	if req.IPAddress != nil {
		agent.IPAddress = *req.IPAddress
	}
	if req.Port != nil {
		agent.Port = *req.Port
	}
	if req.SSHUsername != nil {
		agent.SSHUsername = *req.SSHUsername
	}
	if req.SSHKeyPath != nil {
		agent.SSHKeyPath = *req.SSHKeyPath
	}
	if req.SSHPassword != nil {
		agent.SSHPassword = *req.SSHPassword
	}
	if req.AgentPort != nil {
		agent.AgentPort = *req.AgentPort
	}
	if req.AgentAPIKey != nil {
		agent.AgentAPIKey = *req.AgentAPIKey
	}
	if req.SyncIntervalSeconds != nil {
		agent.SyncIntervalSeconds = *req.SyncIntervalSeconds
	}
	if req.Description != nil {
		agent.Description = *req.Description
	}
	if err := s.st.UpdateAgent(ctx, agent); err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) approveAgent(c *gin.Context) {
	if err := s.registry.Approve(c.Request.Context(), c.Param("id")); err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) rejectAgent(c *gin.Context) {
	if err := s.registry.Reject(c.Request.Context(), c.Param("id")); err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) testConnection(c *gin.Context) {
	res, err := s.dispatcher.TestConnection(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// syncAgent forces an immediate mirror sync regardless of the agent's
// schedule.
func (s *Server) syncAgent(c *gin.Context) {
	ctx := c.Request.Context()
	agent, err := s.st.GetAgent(ctx, c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	if err := s.reconciler.SyncAgent(ctx, agent); err != nil {
		fail(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) regenerateCertificate(c *gin.Context) {
	bundle, err := s.registry.RegenerateCertificate(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

type dispatchRequest struct {
	Command        string         `json:"command" binding:"required"`
	Parameters     map[string]any `json:"parameters"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

func (s *Server) dispatchCommand(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	cmd, err := s.dispatcher.Dispatch(c.Request.Context(), c.Param("id"),
		model.CommandType(req.Command), req.Parameters, req.TimeoutSeconds)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusAccepted, cmd)
}

func (s *Server) listCommands(c *gin.Context) {
	commands, err := s.st.ListCommands(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands, "count": len(commands)})
}

func (s *Server) getCommand(c *gin.Context) {
	cmd, err := s.st.GetCommand(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (s *Server) cancelCommand(c *gin.Context) {
	if err := s.dispatcher.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, err)
			return
		}
		fail(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) listZones(c *gin.Context) {
	zones, err := s.st.ListZones(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"zones": zones, "count": len(zones)})
}

func (s *Server) listRules(c *gin.Context) {
	rules, err := s.st.ListRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) listConnections(c *gin.Context) {
	connections, err := s.st.ListConnections(c.Request.Context(), c.Query("agent_id"))
	if err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": connections, "count": len(connections)})
}

func (s *Server) createConnection(c *gin.Context) {
	var conn model.AgentConnection
	if err := c.ShouldBindJSON(&conn); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if conn.SourceAgentID == "" || conn.TargetAgentID == "" {
		fail(c, http.StatusBadRequest, errors.New("source_agent_id and target_agent_id are required"))
		return
	}
	if err := s.st.CreateConnection(c.Request.Context(), &conn); err != nil {
		failStore(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (s *Server) deleteConnection(c *gin.Context) {
	if err := s.st.DeleteConnection(c.Request.Context(), c.Param("id")); err != nil {
		failStore(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// statusSummary reports fleet counts for dashboards.
func (s *Server) statusSummary(c *gin.Context) {
	agents, err := s.st.ListAgents(c.Request.Context(), "")
	if err != nil {
		failStore(c, err)
		return
	}
	byStatus := map[string]int{}
	for _, a := range agents {
		byStatus[string(a.Status)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"agents":            len(agents),
		"agents_by_status":  byStatus,
		"event_subscribers": s.hub.SubscriberCount(),
	})
}

func (s *Server) serveEvents(c *gin.Context) {
	if s.hub == nil {
		fail(c, http.StatusServiceUnavailable, errors.New("event stream is not enabled"))
		return
	}
	s.hub.Serve(c.Writer, c.Request)
}
