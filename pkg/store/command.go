package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/google/uuid"
)

const commandColumns = `id, agent_id, command_type, parameters, status, result, error,
	timeout_seconds, created_at, executed_at, completed_at`

// CreateCommand durably records a command before any delivery attempt. The
// command starts pending; id, status and created_at are filled in.
func (s *Store) CreateCommand(ctx context.Context, c *model.AgentCommand) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(model.DefaultCommandTimeout.Seconds())
	}
	c.Status = model.CommandPending
	c.CreatedAt = time.Now().UTC()

	params := c.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO agent_commands (id, agent_id, command_type, parameters, status, timeout_seconds, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, string(c.CommandType), string(paramJSON), string(c.Status),
		c.TimeoutSeconds, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert command: %w", err)
	}
	return nil
}

// GetCommand fetches a command by id.
func (s *Store) GetCommand(ctx context.Context, id string) (*model.AgentCommand, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+commandColumns+" FROM agent_commands WHERE id = ?", id)
	return scanCommand(row)
}

// ListCommands returns an agent's commands, newest first.
func (s *Store) ListCommands(ctx context.Context, agentID string, limit int) ([]*model.AgentCommand, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+commandColumns+` FROM agent_commands
	WHERE agent_id = ? ORDER BY created_at DESC, id LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectCommands(rows)
}

// PendingCommands returns the agent's pending queue in FIFO order.
func (s *Store) PendingCommands(ctx context.Context, agentID string) ([]*model.AgentCommand, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+commandColumns+` FROM agent_commands
	WHERE agent_id = ? AND status = ? ORDER BY created_at, id`,
		agentID, string(model.CommandPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectCommands(rows)
}

// MarkExecuting transitions pending → executing. Returns false when the
// command was not pending (already drained, cancelled or timed out).
func (s *Store) MarkExecuting(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agent_commands SET status = ?, executed_at = ? WHERE id = ? AND status = ?`,
		string(model.CommandExecuting), toNanos(at), id, string(model.CommandPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark command executing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteCommand records the terminal result of a command. Terminal states
// are final: the guard refuses to touch rows that already completed, failed,
// were cancelled or timed out.
func (s *Store) CompleteCommand(ctx context.Context, id string, success bool, result, errMsg string, at time.Time) (bool, error) {
	status := model.CommandCompleted
	if !success {
		status = model.CommandFailed
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE agent_commands SET status = ?, result = ?, error = ?, completed_at = ?
	WHERE id = ? AND status IN (?, ?)`,
		string(status), result, errMsg, toNanos(at),
		id, string(model.CommandPending), string(model.CommandExecuting))
	if err != nil {
		return false, fmt.Errorf("failed to complete command: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelCommand transitions pending → cancelled. Cancellation is only
// permitted before execution starts.
func (s *Store) CancelCommand(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE agent_commands SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.CommandCancelled), toNanos(at), id, string(model.CommandPending))
	if err != nil {
		return false, fmt.Errorf("failed to cancel command: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TimeoutOverdue transitions non-terminal commands that expired, per
// model.AgentCommand.Expired, to the timeout state and returns the affected
// ids. Expiry includes the processing grace so a result reported one
// check-in round trip after the drain still lands.
func (s *Store) TimeoutOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, status, timeout_seconds, created_at FROM agent_commands WHERE status IN (?, ?)`,
		string(model.CommandPending), string(model.CommandExecuting))
	if err != nil {
		return nil, fmt.Errorf("failed to query live commands: %w", err)
	}

	var overdue []string
	for rows.Next() {
		var c model.AgentCommand
		var status string
		var createdAt int64
		if err := rows.Scan(&c.ID, &status, &c.TimeoutSeconds, &createdAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		c.Status = model.CommandStatus(status)
		c.CreatedAt = fromNanos(createdAt)
		if c.Expired(now) {
			overdue = append(overdue, c.ID)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}

	var timedOut []string
	for _, id := range overdue {
		res, err := s.db.ExecContext(ctx, `
		UPDATE agent_commands SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
			string(model.CommandTimeout), model.TimeoutErrorMessage, toNanos(now),
			id, string(model.CommandPending), string(model.CommandExecuting))
		if err != nil {
			return timedOut, fmt.Errorf("failed to time out command %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			timedOut = append(timedOut, id)
		}
	}
	return timedOut, nil
}

func collectCommands(rows *sql.Rows) ([]*model.AgentCommand, error) {
	var commands []*model.AgentCommand
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

func scanCommand(row rowScanner) (*model.AgentCommand, error) {
	var c model.AgentCommand
	var commandType, status, params string
	var createdAt int64
	var executedAt, completedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.AgentID, &commandType, &params, &status, &c.Result, &c.Error,
		&c.TimeoutSeconds, &createdAt, &executedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	c.CommandType = model.CommandType(commandType)
	c.Status = model.CommandStatus(status)
	c.CreatedAt = fromNanos(createdAt)
	c.ExecutedAt = fromNullNanos(executedAt)
	c.CompletedAt = fromNullNanos(completedAt)
	if err := json.Unmarshal([]byte(params), &c.Parameters); err != nil {
		c.Parameters = map[string]any{}
	}
	return &c, nil
}
