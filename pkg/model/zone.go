package model

import "time"

// FirewallZone mirrors a firewalld zone as last seen on an agent. The mirror
// is rebuilt wholesale on every successful sync and is never authoritative.
type FirewallZone struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Target     string    `json:"target"`
	Interfaces []string  `json:"interfaces"`
	Sources    []string  `json:"sources"`
	Services   []string  `json:"services"`
	Ports      []string  `json:"ports"`
	Masquerade bool      `json:"masquerade"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RuleType classifies a derived firewall rule row.
type RuleType string

const (
	RuleService RuleType = "service"
	RulePort    RuleType = "port"
)

// FirewallRule is one service or port entry derived from a zone during sync.
// Its lifecycle is tied to the parent zone's sync cycle.
type FirewallRule struct {
	ID        string   `json:"id"`
	AgentID   string   `json:"agent_id"`
	ZoneName  string   `json:"zone"`
	RuleType  RuleType `json:"rule_type"`
	Service   string   `json:"service,omitempty"`
	Port      string   `json:"port,omitempty"`
	Protocol  string   `json:"protocol,omitempty"`
	Enabled   bool     `json:"enabled"`
	Permanent bool     `json:"permanent"`
}
