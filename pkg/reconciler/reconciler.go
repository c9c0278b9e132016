// Package reconciler keeps the stored firewall configuration mirror in step
// with what agents actually run, on each agent's own sync cadence.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/internal/pool"
	"github.com/fwcentral/fwcentral/pkg/events"
	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/parser"
	"github.com/fwcentral/fwcentral/pkg/store"
	"github.com/fwcentral/fwcentral/pkg/transport"
)

// DefaultCheckInterval is how often the reconciler looks for agents due a
// sync.
const DefaultCheckInterval = 10 * time.Second

// Reconciler fetches zone data from due agents and rebuilds their mirror.
type Reconciler struct {
	st      *store.Store
	factory *transport.Factory
	workers *pool.Pool
	locks   *pool.KeyedMutex
	hub     *events.Hub
}

// New wires a reconciler. hub may be nil.
func New(st *store.Store, factory *transport.Factory, workers *pool.Pool, locks *pool.KeyedMutex, hub *events.Hub) *Reconciler {
	return &Reconciler{st: st, factory: factory, workers: workers, locks: locks, hub: hub}
}

// Run checks for due agents every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Sync sweep failed")
			}
		}
	}
}

// Sweep schedules a sync for every agent that is due one. Agents with
// sync_interval_seconds of zero are never picked up.
func (r *Reconciler) Sweep(ctx context.Context) error {
	agents, err := r.st.ListSyncCandidates(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, agent := range agents {
		if !due(agent, now) {
			continue
		}
		agent := agent
		if err := r.workers.Submit(ctx, "sync:"+agent.Hostname, func(jobCtx context.Context) error {
			var syncErr error
			r.locks.WithLock(agent.ID, func() {
				syncErr = r.SyncAgent(jobCtx, agent)
			})
			return syncErr
		}); err != nil {
			log.Warn().Err(err).Str("agent", agent.Hostname).Msg("Could not schedule sync")
		}
	}
	return nil
}

func due(agent *model.Agent, now time.Time) bool {
	if agent.SyncIntervalSeconds <= 0 {
		return false
	}
	if agent.LastSync == nil {
		return true
	}
	return now.Sub(*agent.LastSync) >= time.Duration(agent.SyncIntervalSeconds)*time.Second
}

// SyncAgent fetches the agent's zones and replaces its mirror in one
// transaction. Any failure leaves the previous mirror and the agent's
// status untouched; the next tick retries naturally.
func (r *Reconciler) SyncAgent(ctx context.Context, agent *model.Agent) error {
	tr, err := r.factory.For(agent)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	dumps, err := tr.GetZones(ctx)
	if err != nil {
		log.Warn().Err(err).Str("agent", agent.Hostname).Msg("Sync fetch failed")
		return err
	}
	if len(dumps) == 0 {
		return fmt.Errorf("agent %s returned no zone data", agent.Hostname)
	}

	zones := make([]model.FirewallZone, 0, len(dumps))
	var rules []model.FirewallRule
	for _, dump := range dumps {
		if dump.Name == "" {
			continue
		}
		zone := parser.ParseZoneDetail(agent.ID, dump.Name, dump.Details)
		zones = append(zones, zone)
		rules = append(rules, parser.DeriveRules(zone)...)
	}

	if err := r.st.ReplaceMirror(ctx, agent.ID, zones, rules); err != nil {
		log.Error().Err(err).Str("agent", agent.Hostname).Msg("Mirror replace failed")
		return err
	}
	if err := r.st.MarkSynced(ctx, agent.ID, time.Now().UTC()); err != nil {
		return err
	}

	r.hub.Publish(events.Event{
		Type:     events.TypeAgentSynced,
		AgentID:  agent.ID,
		Hostname: agent.Hostname,
		Detail:   fmt.Sprintf("%d zones, %d rules", len(zones), len(rules)),
	})
	log.Debug().
		Str("agent", agent.Hostname).
		Int("zones", len(zones)).
		Int("rules", len(rules)).
		Msg("Agent synced")
	return nil
}
