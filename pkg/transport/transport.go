// Package transport reaches managed hosts over one of three topologies:
// a remote shell session, an HTTP push to a listening agent, or a durable
// queue drained by a polling agent.
package transport

import (
	"context"
	"fmt"

	"github.com/fwcentral/fwcentral/pkg/model"
)

// Result is the outcome of a single transport call.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	// Command holds the rendered command line when one was built, for audit.
	Command string `json:"command,omitempty"`
	// CommandID is set by the queue adapter: execution is asynchronous and
	// the caller polls the command record for the eventual result.
	CommandID string `json:"command_id,omitempty"`
}

// ZoneDump is one zone's raw detail text as reported by the host.
type ZoneDump struct {
	Name    string `json:"name"`
	Details string `json:"details"`
}

// Health describes a push agent's self-reported state.
type Health struct {
	Status               string `json:"status"`
	Version              string `json:"version"`
	FirewalldAvailable   bool   `json:"firewalld_available"`
	FirewallCmdAvailable bool   `json:"firewall_cmd_available"`
	Hostname             string `json:"hostname"`
	OSInfo               string `json:"os_info"`
}

// Transport abstracts how the server talks to one agent. Instances are
// cheap to create and scoped to a unit of work; callers must Close them.
type Transport interface {
	TestConnection(ctx context.Context) Result
	ExecuteCommand(ctx context.Context, commandType model.CommandType, parameters map[string]any) Result
	GetFirewallStatus(ctx context.Context) Result
	GetZones(ctx context.Context) ([]ZoneDump, error)
	GetRules(ctx context.Context) ([]ZoneDump, error)
	GetAvailableServices(ctx context.Context) ([]string, error)
	Close() error
}

// OSInfoSaver persists a detected operating system string. The write is
// best-effort; transports log and move on when it fails.
type OSInfoSaver interface {
	SaveOSInfo(ctx context.Context, agentID, osInfo string) error
}

// CommandEnqueuer hands commands to the durable queue for pull agents.
type CommandEnqueuer interface {
	CreateCommand(ctx context.Context, c *model.AgentCommand) error
	PendingCommands(ctx context.Context, agentID string) ([]*model.AgentCommand, error)
}

// Factory builds the transport matching an agent's connection type.
type Factory struct {
	saver    OSInfoSaver
	enqueuer CommandEnqueuer
}

// NewFactory wires the shared dependencies transports need.
func NewFactory(saver OSInfoSaver, enqueuer CommandEnqueuer) *Factory {
	return &Factory{saver: saver, enqueuer: enqueuer}
}

// For returns a fresh transport for the agent.
func (f *Factory) For(agent *model.Agent) (Transport, error) {
	switch agent.ConnectionType {
	case model.ConnSSH:
		return NewSSHTransport(agent, f.saver), nil
	case model.ConnServerToAgent:
		return NewPushTransport(agent), nil
	case model.ConnAgentToServer:
		return NewQueueTransport(agent, f.enqueuer), nil
	default:
		return nil, fmt.Errorf("unknown connection type: %s", agent.ConnectionType)
	}
}
