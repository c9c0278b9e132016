// Package model defines the core data types shared by the server, the
// transports and the host agent.
package model

import (
	"fmt"
	"time"
)

// ConnectionType describes how the server reaches an agent.
type ConnectionType string

const (
	ConnSSH           ConnectionType = "ssh"
	ConnAgentToServer ConnectionType = "agent_to_server"
	ConnServerToAgent ConnectionType = "server_to_agent"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	switch t {
	case ConnSSH, ConnAgentToServer, ConnServerToAgent:
		return true
	}
	return false
}

// AgentMode distinguishes push agents (server initiates contact) from pull
// agents (agent initiates contact).
type AgentMode string

const (
	ModePush AgentMode = "push"
	ModePull AgentMode = "pull"
)

// AgentStatus is the lifecycle state of an agent.
type AgentStatus string

const (
	AgentPending  AgentStatus = "pending"
	AgentApproved AgentStatus = "approved"
	AgentOnline   AgentStatus = "online"
	AgentOffline  AgentStatus = "offline"
	AgentRejected AgentStatus = "rejected"
	AgentError    AgentStatus = "error"
)

// Agent is a managed host running firewalld.
type Agent struct {
	ID             string         `json:"id"`
	Hostname       string         `json:"hostname"`
	IPAddress      string         `json:"ip_address"`
	Port           int            `json:"port"`
	ConnectionType ConnectionType `json:"connection_type"`
	Mode           AgentMode      `json:"mode"`
	Status         AgentStatus    `json:"status"`

	// SSH connectivity (connection_type == ssh)
	SSHUsername string `json:"ssh_username,omitempty"`
	SSHKeyPath  string `json:"ssh_key_path,omitempty"`
	SSHPassword string `json:"-"`

	// Push connectivity (connection_type == server_to_agent)
	AgentPort   int    `json:"agent_port,omitempty"`
	AgentAPIKey string `json:"-"`

	// Pull check-in authentication (connection_type == agent_to_server)
	SharedSecret string `json:"-"`

	// Client certificate bundle issued to push agents, PEM encoded.
	Certificate string `json:"-"`

	SyncIntervalSeconds int        `json:"sync_interval_seconds"`
	LastSeen            *time.Time `json:"last_seen,omitempty"`
	LastSync            *time.Time `json:"last_sync,omitempty"`

	OperatingSystem  string `json:"operating_system,omitempty"`
	FirewalldVersion string `json:"firewalld_version,omitempty"`
	Description      string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint returns the connection endpoint for display purposes.
func (a *Agent) Endpoint() string {
	switch a.ConnectionType {
	case ConnServerToAgent:
		return fmt.Sprintf("%s:%d", a.IPAddress, a.AgentPort)
	case ConnSSH:
		return fmt.Sprintf("%s@%s:%d", a.SSHUsername, a.IPAddress, a.Port)
	default:
		return fmt.Sprintf("server listens for %s", a.Hostname)
	}
}

// SeenWithin reports whether the agent checked in within d of now.
func (a *Agent) SeenWithin(now time.Time, d time.Duration) bool {
	return a.LastSeen != nil && now.Sub(*a.LastSeen) < d
}

// AgentConnection describes a logical dependency between two agents. It is
// purely descriptive and has no effect on command routing.
type AgentConnection struct {
	ID            string    `json:"id"`
	SourceAgentID string    `json:"source_agent_id"`
	TargetAgentID string    `json:"target_agent_id"`
	SourcePort    string    `json:"source_port,omitempty"`
	TargetPort    string    `json:"target_port,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	Service       string    `json:"service,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
