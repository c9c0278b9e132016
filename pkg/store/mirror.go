package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/google/uuid"
)

// ReplaceMirror rebuilds an agent's configuration mirror in one transaction:
// existing zone and rule rows are deleted and the freshly parsed ones
// inserted. A failure rolls back and leaves the previous mirror untouched.
func (s *Store) ReplaceMirror(ctx context.Context, agentID string, zones []model.FirewallZone, rules []model.FirewallRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM firewall_rules WHERE agent_id = ?", agentID); err != nil {
		return fmt.Errorf("failed to clear rule mirror: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM firewall_zones WHERE agent_id = ?", agentID); err != nil {
		return fmt.Errorf("failed to clear zone mirror: %w", err)
	}

	now := toNanos(time.Now().UTC())
	for _, zone := range zones {
		interfaces, _ := json.Marshal(emptyIfNil(zone.Interfaces))
		sources, _ := json.Marshal(emptyIfNil(zone.Sources))
		services, _ := json.Marshal(emptyIfNil(zone.Services))
		ports, _ := json.Marshal(emptyIfNil(zone.Ports))

		_, err := tx.ExecContext(ctx, `
		INSERT INTO firewall_zones (id, agent_id, name, target, interfaces, sources, services, ports, masquerade, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), agentID, zone.Name, zone.Target,
			string(interfaces), string(sources), string(services), string(ports),
			boolToInt(zone.Masquerade), now)
		if err != nil {
			return fmt.Errorf("failed to insert zone %s: %w", zone.Name, err)
		}
	}

	for _, rule := range rules {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO firewall_rules (id, agent_id, zone_name, rule_type, service, port, protocol, enabled, permanent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), agentID, rule.ZoneName, string(rule.RuleType),
			rule.Service, rule.Port, rule.Protocol,
			boolToInt(rule.Enabled), boolToInt(rule.Permanent))
		if err != nil {
			return fmt.Errorf("failed to insert rule for zone %s: %w", rule.ZoneName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror replace: %w", err)
	}
	return nil
}

// ListZones returns the mirrored zones for an agent, ordered by name.
func (s *Store) ListZones(ctx context.Context, agentID string) ([]*model.FirewallZone, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, agent_id, name, target, interfaces, sources, services, ports, masquerade, updated_at
	FROM firewall_zones WHERE agent_id = ? ORDER BY name`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var zones []*model.FirewallZone
	for rows.Next() {
		var z model.FirewallZone
		var interfaces, sources, services, ports string
		var masquerade int
		var updatedAt int64
		err := rows.Scan(&z.ID, &z.AgentID, &z.Name, &z.Target,
			&interfaces, &sources, &services, &ports, &masquerade, &updatedAt)
		if err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(interfaces), &z.Interfaces)
		_ = json.Unmarshal([]byte(sources), &z.Sources)
		_ = json.Unmarshal([]byte(services), &z.Services)
		_ = json.Unmarshal([]byte(ports), &z.Ports)
		z.Masquerade = masquerade != 0
		z.UpdatedAt = fromNanos(updatedAt)
		zones = append(zones, &z)
	}
	return zones, rows.Err()
}

// ListRules returns the mirrored rules for an agent, grouped by zone.
func (s *Store) ListRules(ctx context.Context, agentID string) ([]*model.FirewallRule, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, agent_id, zone_name, rule_type, service, port, protocol, enabled, permanent
	FROM firewall_rules WHERE agent_id = ? ORDER BY zone_name, rule_type, service, port`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []*model.FirewallRule
	for rows.Next() {
		var r model.FirewallRule
		var ruleType string
		var enabled, permanent int
		err := rows.Scan(&r.ID, &r.AgentID, &r.ZoneName, &ruleType,
			&r.Service, &r.Port, &r.Protocol, &enabled, &permanent)
		if err != nil {
			return nil, err
		}
		r.RuleType = model.RuleType(ruleType)
		r.Enabled = enabled != 0
		r.Permanent = permanent != 0
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
