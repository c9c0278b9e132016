// Package registry manages the agent fleet: registration, approval,
// heartbeats, staleness sweeping and certificate provisioning.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"

	"github.com/fwcentral/fwcentral/pkg/events"
	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/pki"
	"github.com/fwcentral/fwcentral/pkg/store"
)

// StaleAfter is how long an online agent may stay silent before the sweep
// flips it offline.
const StaleAfter = 10 * time.Minute

// DefaultCheckinInterval is suggested to self-registering pull agents.
const DefaultCheckinInterval = 30 * time.Second

// RegisterRequest carries the fields needed to enroll an agent. Connection
// type specific requirements are checked after struct validation.
type RegisterRequest struct {
	Hostname       string               `json:"hostname" validate:"required,hostname_rfc1123"`
	IPAddress      string               `json:"ip_address" validate:"omitempty,ip"`
	Port           int                  `json:"port" validate:"omitempty,min=1,max=65535"`
	ConnectionType model.ConnectionType `json:"connection_type" validate:"required"`

	SSHUsername string `json:"ssh_username,omitempty"`
	SSHKeyPath  string `json:"ssh_key_path,omitempty"`
	SSHPassword string `json:"ssh_password,omitempty"`

	AgentPort   int    `json:"agent_port,omitempty" validate:"omitempty,min=1,max=65535"`
	AgentAPIKey string `json:"agent_api_key,omitempty"`

	SyncIntervalSeconds int    `json:"sync_interval_seconds,omitempty" validate:"omitempty,min=0"`
	OperatingSystem     string `json:"os_info,omitempty"`
	FirewalldVersion    string `json:"firewalld_version,omitempty"`
	Description         string `json:"description,omitempty"`
}

// RegisterResponse is returned once per registration. The shared secret and
// certificate bundle are not retrievable later.
type RegisterResponse struct {
	Agent                  *model.Agent `json:"agent"`
	SharedSecret           string       `json:"shared_secret,omitempty"`
	Certificate            *pki.Bundle  `json:"certificate,omitempty"`
	CheckinIntervalSeconds int          `json:"checkin_interval_seconds"`
}

// Registry coordinates agent lifecycle operations against the store.
type Registry struct {
	st       *store.Store
	ca       *pki.Manager
	hub      *events.Hub
	validate *validator.Validate
}

// New wires a registry. ca may be nil when push certificate provisioning is
// not configured; hub may be nil.
func New(st *store.Store, ca *pki.Manager, hub *events.Hub) *Registry {
	return &Registry{st: st, ca: ca, hub: hub, validate: validator.New()}
}

// Register enrolls an agent, idempotently by hostname: re-registering an
// existing hostname updates the record in place instead of duplicating it.
// New agents start pending until approved.
func (r *Registry) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}
	if !req.ConnectionType.Valid() {
		return nil, fmt.Errorf("unknown connection type: %s", req.ConnectionType)
	}
	if err := validateCredentials(req); err != nil {
		return nil, err
	}

	existing, err := r.st.GetAgentByHostname(ctx, req.Hostname)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		return r.update(ctx, existing, req)
	}
	return r.create(ctx, req)
}

func validateCredentials(req *RegisterRequest) error {
	switch req.ConnectionType {
	case model.ConnSSH:
		if req.SSHUsername == "" {
			return errors.New("ssh agents require a username")
		}
		if req.SSHKeyPath == "" && req.SSHPassword == "" {
			return errors.New("ssh agents require a key or a password")
		}
	case model.ConnServerToAgent:
		if req.AgentAPIKey == "" {
			return errors.New("push agents require an API key")
		}
	}
	return nil
}

func (r *Registry) create(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	agent := &model.Agent{
		Hostname:            req.Hostname,
		IPAddress:           req.IPAddress,
		Port:                defaultInt(req.Port, 22),
		ConnectionType:      req.ConnectionType,
		Mode:                modeFor(req.ConnectionType),
		Status:              model.AgentPending,
		SSHUsername:         req.SSHUsername,
		SSHKeyPath:          req.SSHKeyPath,
		SSHPassword:         req.SSHPassword,
		AgentPort:           defaultInt(req.AgentPort, 8444),
		AgentAPIKey:         req.AgentAPIKey,
		SyncIntervalSeconds: req.SyncIntervalSeconds,
		OperatingSystem:     req.OperatingSystem,
		FirewalldVersion:    req.FirewalldVersion,
		Description:         req.Description,
	}

	resp := &RegisterResponse{CheckinIntervalSeconds: int(DefaultCheckinInterval.Seconds())}

	if req.ConnectionType == model.ConnAgentToServer {
		secret, err := newSecret()
		if err != nil {
			return nil, err
		}
		agent.SharedSecret = secret
		resp.SharedSecret = secret
	}

	if err := r.st.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	if req.ConnectionType == model.ConnServerToAgent && r.ca != nil {
		bundle, err := r.ca.IssueClientCertificate(agent.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue client certificate: %w", err)
		}
		if err := r.st.SaveCertificate(ctx, agent.ID, bundle.Certificate); err != nil {
			return nil, err
		}
		agent.Certificate = bundle.Certificate
		resp.Certificate = bundle
	}

	resp.Agent = agent
	r.hub.Publish(events.Event{Type: events.TypeAgentRegistered, AgentID: agent.ID, Hostname: agent.Hostname})
	log.Info().Str("hostname", agent.Hostname).Str("type", string(agent.ConnectionType)).Msg("Agent registered")
	return resp, nil
}

// update refreshes a re-registering agent's reachability details without
// touching its lifecycle status or issued credentials.
func (r *Registry) update(ctx context.Context, agent *model.Agent, req *RegisterRequest) (*RegisterResponse, error) {
	if req.IPAddress != "" {
		agent.IPAddress = req.IPAddress
	}
	if req.Port != 0 {
		agent.Port = req.Port
	}
	if req.SSHUsername != "" {
		agent.SSHUsername = req.SSHUsername
	}
	if req.SSHKeyPath != "" {
		agent.SSHKeyPath = req.SSHKeyPath
	}
	if req.SSHPassword != "" {
		agent.SSHPassword = req.SSHPassword
	}
	if req.AgentPort != 0 {
		agent.AgentPort = req.AgentPort
	}
	if req.AgentAPIKey != "" {
		agent.AgentAPIKey = req.AgentAPIKey
	}
	if req.OperatingSystem != "" {
		agent.OperatingSystem = req.OperatingSystem
	}
	if req.FirewalldVersion != "" {
		agent.FirewalldVersion = req.FirewalldVersion
	}
	if req.Description != "" {
		agent.Description = req.Description
	}
	if req.SyncIntervalSeconds > 0 {
		agent.SyncIntervalSeconds = req.SyncIntervalSeconds
	}

	if err := r.st.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	log.Info().Str("hostname", agent.Hostname).Msg("Agent re-registered")
	return &RegisterResponse{
		Agent:                  agent,
		SharedSecret:           agent.SharedSecret,
		CheckinIntervalSeconds: int(DefaultCheckinInterval.Seconds()),
	}, nil
}

// Approve moves a pending agent into the fleet.
func (r *Registry) Approve(ctx context.Context, agentID string) error {
	return r.transitionFromPending(ctx, agentID, model.AgentApproved, events.TypeAgentApproved)
}

// Reject declines a pending agent.
func (r *Registry) Reject(ctx context.Context, agentID string) error {
	return r.transitionFromPending(ctx, agentID, model.AgentRejected, events.TypeAgentRejected)
}

func (r *Registry) transitionFromPending(ctx context.Context, agentID string, to model.AgentStatus, eventType string) error {
	agent, err := r.st.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status != model.AgentPending {
		return fmt.Errorf("agent %s is %s, not pending", agent.Hostname, agent.Status)
	}
	if err := r.st.SetAgentStatus(ctx, agentID, to); err != nil {
		return err
	}
	r.hub.Publish(events.Event{Type: eventType, AgentID: agentID, Hostname: agent.Hostname})
	log.Info().Str("hostname", agent.Hostname).Str("status", string(to)).Msg("Agent status changed")
	return nil
}

// Heartbeat records a check-in: the agent goes online and last_seen moves
// forward. osInfo and firewalldVersion are optional.
func (r *Registry) Heartbeat(ctx context.Context, agentID string, osInfo, firewalldVersion string) error {
	if err := r.st.Heartbeat(ctx, agentID, time.Now().UTC(), osInfo, firewalldVersion); err != nil {
		return err
	}
	r.hub.Publish(events.Event{Type: events.TypeAgentOnline, AgentID: agentID})
	return nil
}

// Authenticate verifies a pull agent's shared secret.
func (r *Registry) Authenticate(ctx context.Context, agentID, sharedSecret string) (*model.Agent, error) {
	agent, err := r.st.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.SharedSecret == "" || agent.SharedSecret != sharedSecret {
		return nil, errors.New("invalid agent credentials")
	}
	if agent.Status == model.AgentRejected {
		return nil, errors.New("agent is rejected")
	}
	return agent, nil
}

// SweepStale flips online agents silent for longer than StaleAfter to
// offline. A heartbeat arriving mid-sweep wins because the cutoff check
// lives inside the update statement.
func (r *Registry) SweepStale(ctx context.Context) (int64, error) {
	n, err := r.st.MarkStaleOffline(ctx, time.Now().UTC().Add(-StaleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("Marked stale agents offline")
		r.hub.Publish(events.Event{Type: events.TypeAgentOffline, Detail: fmt.Sprintf("%d agents went offline", n)})
	}
	return n, nil
}

// RunStaleSweeper periodically runs SweepStale until ctx is cancelled.
func (r *Registry) RunStaleSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepStale(ctx); err != nil {
				log.Error().Err(err).Msg("Stale sweep failed")
			}
		}
	}
}

// RegenerateCertificate issues a fresh client certificate for a push agent,
// replacing the stored bundle without changing the agent id.
func (r *Registry) RegenerateCertificate(ctx context.Context, agentID string) (*pki.Bundle, error) {
	if r.ca == nil {
		return nil, errors.New("certificate authority is not configured")
	}
	agent, err := r.st.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.ConnectionType != model.ConnServerToAgent {
		return nil, fmt.Errorf("agent %s does not use certificates", agent.Hostname)
	}
	bundle, err := r.ca.IssueClientCertificate(agent.ID)
	if err != nil {
		return nil, err
	}
	if err := r.st.SaveCertificate(ctx, agent.ID, bundle.Certificate); err != nil {
		return nil, err
	}
	return bundle, nil
}

// Delete removes an agent and all its dependent rows.
func (r *Registry) Delete(ctx context.Context, agentID string) error {
	agent, err := r.st.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := r.st.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	r.hub.Publish(events.Event{Type: events.TypeAgentDeleted, AgentID: agentID, Hostname: agent.Hostname})
	log.Info().Str("hostname", agent.Hostname).Msg("Agent deleted")
	return nil
}

func modeFor(t model.ConnectionType) model.AgentMode {
	if t == model.ConnAgentToServer {
		return model.ModePull
	}
	return model.ModePush
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate shared secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
