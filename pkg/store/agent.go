package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/google/uuid"
)

const agentColumns = `id, hostname, ip_address, port, connection_type, mode, status,
	ssh_username, ssh_key_path, ssh_password, agent_port, agent_api_key,
	shared_secret, certificate, sync_interval_seconds, last_seen, last_sync,
	operating_system, firewalld_version, description, created_at, updated_at`

// CreateAgent inserts a new agent, assigning an id and timestamps.
func (s *Store) CreateAgent(ctx context.Context, a *model.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO agents (`+agentColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Hostname, a.IPAddress, a.Port, string(a.ConnectionType), string(a.Mode), string(a.Status),
		a.SSHUsername, a.SSHKeyPath, a.SSHPassword, a.AgentPort, a.AgentAPIKey,
		a.SharedSecret, a.Certificate, a.SyncIntervalSeconds, toNullNanos(a.LastSeen), toNullNanos(a.LastSync),
		a.OperatingSystem, a.FirewalldVersion, a.Description, toNanos(a.CreatedAt), toNanos(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// UpdateAgent rewrites all mutable agent fields.
func (s *Store) UpdateAgent(ctx context.Context, a *model.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
	UPDATE agents SET hostname = ?, ip_address = ?, port = ?, connection_type = ?, mode = ?, status = ?,
		ssh_username = ?, ssh_key_path = ?, ssh_password = ?, agent_port = ?, agent_api_key = ?,
		shared_secret = ?, certificate = ?, sync_interval_seconds = ?, last_seen = ?, last_sync = ?,
		operating_system = ?, firewalld_version = ?, description = ?, updated_at = ?
	WHERE id = ?`,
		a.Hostname, a.IPAddress, a.Port, string(a.ConnectionType), string(a.Mode), string(a.Status),
		a.SSHUsername, a.SSHKeyPath, a.SSHPassword, a.AgentPort, a.AgentAPIKey,
		a.SharedSecret, a.Certificate, a.SyncIntervalSeconds, toNullNanos(a.LastSeen), toNullNanos(a.LastSync),
		a.OperatingSystem, a.FirewalldVersion, a.Description, toNanos(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id)
	return scanAgent(row)
}

// GetAgentByHostname fetches an agent by its unique hostname.
func (s *Store) GetAgentByHostname(ctx context.Context, hostname string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE hostname = ?", hostname)
	return scanAgent(row)
}

// ListAgents returns agents, optionally filtered by status, ordered by
// hostname.
func (s *Store) ListAgents(ctx context.Context, status model.AgentStatus) ([]*model.Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY hostname"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListSyncCandidates returns agents with auto-sync enabled whose status
// permits syncing.
func (s *Store) ListSyncCandidates(ctx context.Context) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+` FROM agents
	WHERE sync_interval_seconds > 0 AND status IN (?, ?) ORDER BY hostname`,
		string(model.AgentOnline), string(model.AgentApproved))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetAgentStatus updates just the lifecycle status.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status model.AgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, updated_at = ? WHERE id = ?",
		string(status), toNanos(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat records a check-in: last_seen moves forward and the agent is
// flagged online. OS info and firewalld version update only when reported.
func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time, osInfo, firewalldVersion string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agents SET last_seen = ?, status = ?,
		operating_system = CASE WHEN ? != '' THEN ? ELSE operating_system END,
		firewalld_version = CASE WHEN ? != '' THEN ? ELSE firewalld_version END,
		updated_at = ?
	WHERE id = ?`,
		toNanos(at), string(model.AgentOnline),
		osInfo, osInfo, firewalldVersion, firewalldVersion,
		toNanos(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSynced records a successful sync: both last_seen and last_sync advance
// and the agent is flagged online.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET last_seen = ?, last_sync = ?, status = ?, updated_at = ? WHERE id = ?",
		toNanos(at), toNanos(at), string(model.AgentOnline), toNanos(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark agent synced: %w", err)
	}
	return nil
}

// MarkStaleOffline flips online agents whose last_seen predates cutoff to
// offline. The condition lives in the UPDATE itself so a heartbeat arriving
// mid-sweep is never clobbered.
func (s *Store) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agents SET status = ?, updated_at = ?
	WHERE status = ? AND (last_seen IS NULL OR last_seen < ?)`,
		string(model.AgentOffline), toNanos(time.Now().UTC()),
		string(model.AgentOnline), toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale agents: %w", err)
	}
	return res.RowsAffected()
}

// SaveOSInfo persists a detected operating system string. Used as a
// best-effort side write; callers ignore the error beyond logging.
func (s *Store) SaveOSInfo(ctx context.Context, id, osInfo string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET operating_system = ?, updated_at = ? WHERE id = ?",
		osInfo, toNanos(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to save OS info: %w", err)
	}
	return nil
}

// SaveCertificate replaces the stored certificate bundle.
func (s *Store) SaveCertificate(ctx context.Context, id, certificate string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET certificate = ?, updated_at = ? WHERE id = ?",
		certificate, toNanos(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgent removes an agent; zones, rules, commands and connections
// cascade via foreign keys.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var a model.Agent
	var connType, mode, status string
	var lastSeen, lastSync sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&a.ID, &a.Hostname, &a.IPAddress, &a.Port, &connType, &mode, &status,
		&a.SSHUsername, &a.SSHKeyPath, &a.SSHPassword, &a.AgentPort, &a.AgentAPIKey,
		&a.SharedSecret, &a.Certificate, &a.SyncIntervalSeconds, &lastSeen, &lastSync,
		&a.OperatingSystem, &a.FirewalldVersion, &a.Description, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.ConnectionType = model.ConnectionType(connType)
	a.Mode = model.AgentMode(mode)
	a.Status = model.AgentStatus(status)
	a.LastSeen = fromNullNanos(lastSeen)
	a.LastSync = fromNullNanos(lastSync)
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	return &a, nil
}
