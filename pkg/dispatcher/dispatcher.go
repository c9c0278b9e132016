// Package dispatcher owns the command lifecycle: durable queueing, delivery
// over the agent's transport, result application and timeout cleanup.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/internal/pool"
	"github.com/fwcentral/fwcentral/pkg/events"
	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/store"
	"github.com/fwcentral/fwcentral/pkg/transport"
)

// Dispatcher routes commands to agents. Commands are persisted before any
// delivery attempt so a transport failure still leaves a traceable record.
type Dispatcher struct {
	st      *store.Store
	factory *transport.Factory
	workers *pool.Pool
	locks   *pool.KeyedMutex
	hub     *events.Hub
}

// New wires a dispatcher. hub may be nil when no event stream is wanted.
func New(st *store.Store, factory *transport.Factory, workers *pool.Pool, locks *pool.KeyedMutex, hub *events.Hub) *Dispatcher {
	return &Dispatcher{st: st, factory: factory, workers: workers, locks: locks, hub: hub}
}

// Dispatch validates, persists and delivers a command. For pull agents the
// command stays pending until the agent's next check-in; for ssh and push
// agents execution runs asynchronously on the worker pool. Callers poll the
// returned command record for the result.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID string, commandType model.CommandType, parameters map[string]any, timeoutSeconds int) (*model.AgentCommand, error) {
	commandType = model.NormalizeCommandType(string(commandType))
	if !model.KnownCommandType(commandType) {
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}

	agent, err := d.st.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status == model.AgentPending || agent.Status == model.AgentRejected {
		return nil, fmt.Errorf("agent %s is not approved", agent.Hostname)
	}

	cmd := &model.AgentCommand{
		AgentID:        agent.ID,
		CommandType:    commandType,
		Parameters:     parameters,
		TimeoutSeconds: timeoutSeconds,
	}
	if err := d.st.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}

	d.hub.Publish(events.Event{
		Type:      events.TypeCommandQueued,
		AgentID:   agent.ID,
		Hostname:  agent.Hostname,
		CommandID: cmd.ID,
		Detail:    string(commandType),
	})
	log.Debug().
		Str("agent", agent.Hostname).
		Str("command", string(commandType)).
		Str("id", cmd.ID).
		Msg("Command queued")

	if agent.ConnectionType == model.ConnAgentToServer {
		// the polling agent drains the queue on its next check-in
		return cmd, nil
	}

	commandID := cmd.ID
	if err := d.workers.Submit(ctx, "dispatch:"+agent.Hostname, func(jobCtx context.Context) error {
		d.locks.WithLock(agent.ID, func() {
			d.deliver(jobCtx, agent, commandID, commandType, parameters)
		})
		return nil
	}); err != nil {
		now := time.Now().UTC()
		_, _ = d.st.CompleteCommand(ctx, commandID, false,
			"", fmt.Sprintf("dispatch failed: %v", err), now)
		return nil, fmt.Errorf("failed to schedule command: %w", err)
	}
	return cmd, nil
}

// deliver runs one command over a fresh transport while holding the agent's
// lock. It is only called for ssh and push agents; ctx carries the worker
// pool's job timeout.
func (d *Dispatcher) deliver(ctx context.Context, agent *model.Agent, commandID string, commandType model.CommandType, parameters map[string]any) {
	ok, err := d.st.MarkExecuting(ctx, commandID, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("id", commandID).Msg("Failed to mark command executing")
		return
	}
	if !ok {
		// cancelled or timed out while waiting for a worker
		return
	}

	tr, err := d.factory.For(agent)
	if err != nil {
		d.finish(ctx, agent, commandID, transport.Result{Success: false, Output: err.Error()})
		return
	}
	defer func() { _ = tr.Close() }()

	res := tr.ExecuteCommand(ctx, commandType, parameters)
	d.finish(ctx, agent, commandID, res)
}

func (d *Dispatcher) finish(ctx context.Context, agent *model.Agent, commandID string, res transport.Result) {
	errMsg := ""
	if !res.Success {
		errMsg = res.Output
	}
	applied, err := d.st.CompleteCommand(ctx, commandID, res.Success, res.Output, errMsg, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("id", commandID).Msg("Failed to record command result")
		return
	}
	if !applied {
		log.Debug().Str("id", commandID).Msg("Dropping result for command already in a terminal state")
		return
	}

	d.hub.Publish(events.Event{
		Type:      events.TypeCommandDone,
		AgentID:   agent.ID,
		Hostname:  agent.Hostname,
		CommandID: commandID,
		Detail:    statusDetail(res.Success),
	})
}

func statusDetail(success bool) string {
	if success {
		return string(model.CommandCompleted)
	}
	return string(model.CommandFailed)
}

// Cancel aborts a command that has not started executing.
func (d *Dispatcher) Cancel(ctx context.Context, commandID string) error {
	cmd, err := d.st.GetCommand(ctx, commandID)
	if err != nil {
		return err
	}
	ok, err := d.st.CancelCommand(ctx, commandID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("command %s is no longer pending", commandID)
	}
	d.hub.Publish(events.Event{
		Type:      events.TypeCommandDone,
		AgentID:   cmd.AgentID,
		CommandID: commandID,
		Detail:    string(model.CommandCancelled),
	})
	return nil
}

// Drain returns the agent's pending commands oldest first and marks them
// executing. Called from the pull agent's check-in.
func (d *Dispatcher) Drain(ctx context.Context, agentID string) ([]*model.AgentCommand, error) {
	var drained []*model.AgentCommand
	var drainErr error

	d.locks.WithLock(agentID, func() {
		pending, err := d.st.PendingCommands(ctx, agentID)
		if err != nil {
			drainErr = err
			return
		}
		now := time.Now().UTC()
		for _, cmd := range pending {
			ok, err := d.st.MarkExecuting(ctx, cmd.ID, now)
			if err != nil {
				drainErr = err
				return
			}
			if ok {
				drained = append(drained, cmd)
			}
		}
	})
	return drained, drainErr
}

// ApplyResult records a result reported by a pull agent. The command must
// belong to the reporting agent; late results for terminal commands are
// dropped silently.
func (d *Dispatcher) ApplyResult(ctx context.Context, agentID, commandID string, success bool, output string) error {
	cmd, err := d.st.GetCommand(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd.AgentID != agentID {
		return fmt.Errorf("command %s does not belong to agent %s", commandID, agentID)
	}

	errMsg := ""
	if !success {
		errMsg = output
	}
	applied, err := d.st.CompleteCommand(ctx, commandID, success, output, errMsg, time.Now().UTC())
	if err != nil {
		return err
	}
	if applied {
		d.hub.Publish(events.Event{
			Type:      events.TypeCommandDone,
			AgentID:   agentID,
			CommandID: commandID,
			Detail:    statusDetail(success),
		})
	}
	return nil
}

// SweepTimeouts transitions commands that outlived their timeout plus the
// processing grace to the timeout state.
func (d *Dispatcher) SweepTimeouts(ctx context.Context) error {
	return d.sweepTimeouts(ctx, time.Now().UTC())
}

func (d *Dispatcher) sweepTimeouts(ctx context.Context, now time.Time) error {
	ids, err := d.st.TimeoutOverdue(ctx, now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		log.Warn().Str("id", id).Msg("Command timed out")
		d.hub.Publish(events.Event{
			Type:      events.TypeCommandDone,
			CommandID: id,
			Detail:    string(model.CommandTimeout),
		})
	}
	return nil
}

// RunTimeoutSweeper periodically sweeps for overdue commands until ctx is
// cancelled.
func (d *Dispatcher) RunTimeoutSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.SweepTimeouts(ctx); err != nil {
				log.Error().Err(err).Msg("Timeout sweep failed")
			}
		}
	}
}

// TestConnection probes connectivity to the agent over its transport.
func (d *Dispatcher) TestConnection(ctx context.Context, agentID string) (transport.Result, error) {
	agent, err := d.st.GetAgent(ctx, agentID)
	if err != nil {
		return transport.Result{}, err
	}
	tr, err := d.factory.For(agent)
	if err != nil {
		return transport.Result{}, err
	}
	defer func() { _ = tr.Close() }()
	return tr.TestConnection(ctx), nil
}
