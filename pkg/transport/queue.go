package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
)

// checkinFreshness bounds how old a pull agent's last check-in may be for a
// connection test to pass.
const checkinFreshness = 5 * time.Minute

// QueueTransport serves pull agents. The server never contacts the host;
// ExecuteCommand only persists the command and the agent drains it on its
// next check-in. Results arrive asynchronously.
type QueueTransport struct {
	agent    *model.Agent
	enqueuer CommandEnqueuer
}

// NewQueueTransport builds a transport for an agent_to_server agent.
func NewQueueTransport(agent *model.Agent, enqueuer CommandEnqueuer) *QueueTransport {
	return &QueueTransport{agent: agent, enqueuer: enqueuer}
}

// TestConnection passes only when the agent checked in within the freshness
// window.
func (t *QueueTransport) TestConnection(ctx context.Context) Result {
	if t.agent.SeenWithin(time.Now().UTC(), checkinFreshness) {
		return Result{
			Success: true,
			Output:  fmt.Sprintf("agent %s checked in at %s", t.agent.Hostname, t.agent.LastSeen.Format(time.RFC3339)),
		}
	}
	return Result{Success: false, Output: "agent has not checked in within the last 5 minutes"}
}

// ExecuteCommand enqueues the command and acknowledges with its id. The
// caller polls the command record for the eventual result. The dispatcher
// normally owns this path and validates before persisting; the same checks
// run here so direct callers get the same contract.
func (t *QueueTransport) ExecuteCommand(ctx context.Context, commandType model.CommandType, parameters map[string]any) Result {
	commandType = model.NormalizeCommandType(string(commandType))
	if !model.KnownCommandType(commandType) {
		return Result{Success: false, Output: fmt.Sprintf("unknown command type: %s", commandType)}
	}
	if t.agent.Status == model.AgentPending || t.agent.Status == model.AgentRejected {
		return Result{Success: false, Output: fmt.Sprintf("agent %s is not approved", t.agent.Hostname)}
	}

	cmd := &model.AgentCommand{
		AgentID:     t.agent.ID,
		CommandType: commandType,
		Parameters:  parameters,
	}
	if err := t.enqueuer.CreateCommand(ctx, cmd); err != nil {
		return Result{Success: false, Output: fmt.Sprintf("failed to queue command: %v", err)}
	}
	return Result{
		Success:   true,
		Output:    "Command queued for agent pickup",
		CommandID: cmd.ID,
	}
}

// GetFirewallStatus enqueues a status command; the result is asynchronous.
func (t *QueueTransport) GetFirewallStatus(ctx context.Context) Result {
	return t.ExecuteCommand(ctx, model.CmdGetStatus, nil)
}

// GetZones returns empty immediately. Pull agents report zone data through
// their check-in cycle, not through a synchronous fetch.
func (t *QueueTransport) GetZones(ctx context.Context) ([]ZoneDump, error) {
	return nil, nil
}

// GetRules returns empty immediately, like GetZones.
func (t *QueueTransport) GetRules(ctx context.Context) ([]ZoneDump, error) {
	return nil, nil
}

// GetAvailableServices returns empty immediately.
func (t *QueueTransport) GetAvailableServices(ctx context.Context) ([]string, error) {
	return nil, nil
}

// Close is a no-op.
func (t *QueueTransport) Close() error { return nil }
