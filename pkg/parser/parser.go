// Package parser converts raw firewall-cmd zone detail output into the
// structured zone and rule records stored in the configuration mirror.
package parser

import (
	"strings"

	"github.com/fwcentral/fwcentral/pkg/model"
)

// DefaultProtocol is assumed for port tokens that carry no protocol suffix.
const DefaultProtocol = "tcp"

// ParseZoneDetail parses the `firewall-cmd --zone=<name> --list-all` output
// for a single zone. Unrecognized lines are skipped, never errors: the output
// format drifts between firewalld releases and a partial parse is still a
// usable mirror.
func ParseZoneDetail(agentID, name, details string) model.FirewallZone {
	zone := model.FirewallZone{
		AgentID:    agentID,
		Name:       name,
		Target:     "default",
		Interfaces: []string{},
		Sources:    []string{},
		Services:   []string{},
		Ports:      []string{},
	}

	for _, line := range strings.Split(details, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "services:"):
			zone.Services = fields(line, "services:")
		case strings.HasPrefix(line, "ports:"):
			zone.Ports = fields(line, "ports:")
		case strings.HasPrefix(line, "interfaces:"):
			zone.Interfaces = fields(line, "interfaces:")
		case strings.HasPrefix(line, "sources:"):
			zone.Sources = fields(line, "sources:")
		case strings.HasPrefix(line, "masquerade:"):
			zone.Masquerade = strings.Contains(strings.ToLower(line), "yes")
		case strings.HasPrefix(line, "target:"):
			if target := strings.TrimSpace(strings.TrimPrefix(line, "target:")); target != "" {
				zone.Target = target
			}
		}
	}

	return zone
}

// DeriveRules expands a parsed zone into one rule row per service and per
// port token.
func DeriveRules(zone model.FirewallZone) []model.FirewallRule {
	rules := make([]model.FirewallRule, 0, len(zone.Services)+len(zone.Ports))

	for _, service := range zone.Services {
		rules = append(rules, model.FirewallRule{
			AgentID:   zone.AgentID,
			ZoneName:  zone.Name,
			RuleType:  model.RuleService,
			Service:   service,
			Enabled:   true,
			Permanent: true,
		})
	}

	for _, spec := range zone.Ports {
		port, protocol := SplitPortSpec(spec)
		rules = append(rules, model.FirewallRule{
			AgentID:   zone.AgentID,
			ZoneName:  zone.Name,
			RuleType:  model.RulePort,
			Port:      port,
			Protocol:  protocol,
			Enabled:   true,
			Permanent: true,
		})
	}

	return rules
}

// SplitPortSpec splits a `port/protocol` token on the first slash. Tokens
// without a protocol default to tcp. Port may be a range like `8080-8090`.
func SplitPortSpec(spec string) (port, protocol string) {
	if idx := strings.Index(spec, "/"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, DefaultProtocol
}

func fields(line, prefix string) []string {
	out := []string{}
	for _, tok := range strings.Fields(strings.TrimPrefix(line, prefix)) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
