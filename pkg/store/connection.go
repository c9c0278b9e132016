package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/google/uuid"
)

// CreateConnection records a descriptive topology edge between two agents.
func (s *Store) CreateConnection(ctx context.Context, c *model.AgentConnection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO agent_connections (id, source_agent_id, target_agent_id, source_port, target_port, protocol, service, description, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SourceAgentID, c.TargetAgentID, c.SourcePort, c.TargetPort,
		c.Protocol, c.Service, c.Description, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// ListConnections returns all topology edges, optionally scoped to one agent
// as either endpoint.
func (s *Store) ListConnections(ctx context.Context, agentID string) ([]*model.AgentConnection, error) {
	query := `SELECT id, source_agent_id, target_agent_id, source_port, target_port, protocol, service, description, created_at
	FROM agent_connections`
	args := []any{}
	if agentID != "" {
		query += " WHERE source_agent_id = ? OR target_agent_id = ?"
		args = append(args, agentID, agentID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var connections []*model.AgentConnection
	for rows.Next() {
		var c model.AgentConnection
		var createdAt int64
		err := rows.Scan(&c.ID, &c.SourceAgentID, &c.TargetAgentID, &c.SourcePort, &c.TargetPort,
			&c.Protocol, &c.Service, &c.Description, &createdAt)
		if err != nil {
			return nil, err
		}
		c.CreatedAt = fromNanos(createdAt)
		connections = append(connections, &c)
	}
	return connections, rows.Err()
}

// DeleteConnection removes a topology edge.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
