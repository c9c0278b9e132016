package model

import (
	"strings"
	"time"
)

// CommandType identifies a firewalld operation in the fixed command
// vocabulary shared by the server, the transports and the host agent.
type CommandType string

const (
	CmdGetStatus      CommandType = "get_status"
	CmdGetZones       CommandType = "get_zones"
	CmdGetRules       CommandType = "get_rules"
	CmdGetDefaultZone CommandType = "get_default_zone"
	CmdListAll        CommandType = "list_all"
	CmdAddService     CommandType = "add_service"
	CmdRemoveService  CommandType = "remove_service"
	CmdAddPort        CommandType = "add_port"
	CmdRemovePort     CommandType = "remove_port"
	CmdNewZone        CommandType = "new_zone"
	CmdDeleteZone     CommandType = "delete_zone"
	CmdReload         CommandType = "reload"
	CmdGetServices    CommandType = "get_services"
)

var commandTypes = map[CommandType]struct{}{
	CmdGetStatus:      {},
	CmdGetZones:       {},
	CmdGetRules:       {},
	CmdGetDefaultZone: {},
	CmdListAll:        {},
	CmdAddService:     {},
	CmdRemoveService:  {},
	CmdAddPort:        {},
	CmdRemovePort:     {},
	CmdNewZone:        {},
	CmdDeleteZone:     {},
	CmdReload:         {},
	CmdGetServices:    {},
}

// NormalizeCommandType canonicalizes a command token. Both hyphen and
// underscore separators are accepted on the wire; underscores are canonical.
func NormalizeCommandType(s string) CommandType {
	s = strings.ToLower(strings.TrimSpace(s))
	return CommandType(strings.ReplaceAll(s, "-", "_"))
}

// KnownCommandType reports whether t belongs to the command vocabulary.
func KnownCommandType(t CommandType) bool {
	_, ok := commandTypes[t]
	return ok
}

// Mutating reports whether t changes firewall configuration.
func (t CommandType) Mutating() bool {
	switch t {
	case CmdAddService, CmdRemoveService, CmdAddPort, CmdRemovePort, CmdNewZone, CmdDeleteZone:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t CommandType) String() string { return string(t) }

// CommandStatus is the lifecycle state of an issued command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandCancelled CommandStatus = "cancelled"
	CommandTimeout   CommandStatus = "timeout"
)

// Terminal reports whether s is a final state. Terminal commands are
// immutable and retained for audit.
func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandCompleted, CommandFailed, CommandCancelled, CommandTimeout:
		return true
	}
	return false
}

// DefaultCommandTimeout is applied when a dispatch request carries no
// explicit timeout.
const DefaultCommandTimeout = 30 * time.Second

// TimeoutErrorMessage is the standard error recorded when a command exceeds
// its timeout without a reported result.
const TimeoutErrorMessage = "Command timed out"

// CommandProcessingGrace is added on top of a command's timeout before the
// sweep declares it dead. Pull agents drain a command on one check-in and
// report its result on a follow-up exchange; the grace covers that round
// trip plus delivery slack.
const CommandProcessingGrace = 60 * time.Second

// AgentCommand is the durable record of a command issued to an agent.
type AgentCommand struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	CommandType    CommandType    `json:"command_type"`
	Parameters     map[string]any `json:"parameters"`
	Status         CommandStatus  `json:"status"`
	Result         string         `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`

	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Expired reports whether the command has outlived its timeout plus the
// processing grace without reaching a terminal state.
func (c *AgentCommand) Expired(now time.Time) bool {
	if c.Status.Terminal() {
		return false
	}
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return now.Sub(c.CreatedAt) > timeout+CommandProcessingGrace
}
