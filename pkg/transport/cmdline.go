package transport

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fwcentral/fwcentral/pkg/model"
)

// DefaultZone is applied when a zone-scoped command carries no zone
// parameter.
const DefaultZone = "public"

// tokens reaching a remote shell must stay inert
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// BuildArgs translates a command type and its parameters into firewall-cmd
// arguments. needsReload reports that a follow-up reload is required to make
// a permanent change take runtime effect.
func BuildArgs(commandType model.CommandType, parameters map[string]any) (args []string, needsReload bool, err error) {
	switch commandType {
	case model.CmdGetStatus:
		return []string{"--state"}, false, nil
	case model.CmdGetZones:
		return []string{"--get-zones"}, false, nil
	case model.CmdGetDefaultZone:
		return []string{"--get-default-zone"}, false, nil
	case model.CmdGetServices:
		return []string{"--get-services"}, false, nil
	case model.CmdReload:
		return []string{"--reload"}, false, nil

	case model.CmdListAll, model.CmdGetRules:
		args = []string{}
		if zone := stringParam(parameters, "zone"); zone != "" {
			zone, err = safeToken("zone", normalizeZone(zone))
			if err != nil {
				return nil, false, err
			}
			args = append(args, "--zone", zone)
		}
		return append(args, "--list-all"), false, nil

	case model.CmdAddService, model.CmdRemoveService:
		service, err := safeToken("service", stringParam(parameters, "service"))
		if err != nil {
			return nil, false, err
		}
		zone, err := safeToken("zone", zoneParam(parameters))
		if err != nil {
			return nil, false, err
		}
		permanent := boolParam(parameters, "permanent", true)
		args = permanentArgs(permanent)
		args = append(args, "--zone", zone)
		if commandType == model.CmdAddService {
			args = append(args, "--add-service", service)
		} else {
			args = append(args, "--remove-service", service)
		}
		return args, permanent, nil

	case model.CmdAddPort, model.CmdRemovePort:
		port := stringParam(parameters, "port")
		if port == "" {
			return nil, false, fmt.Errorf("missing port parameter")
		}
		if !strings.Contains(port, "/") {
			port += "/" + defaultProtocol(parameters)
		}
		if port, err = safeToken("port", port); err != nil {
			return nil, false, err
		}
		zone, err := safeToken("zone", zoneParam(parameters))
		if err != nil {
			return nil, false, err
		}
		permanent := boolParam(parameters, "permanent", true)
		args = permanentArgs(permanent)
		args = append(args, "--zone", zone)
		if commandType == model.CmdAddPort {
			args = append(args, "--add-port", port)
		} else {
			args = append(args, "--remove-port", port)
		}
		return args, permanent, nil

	case model.CmdNewZone, model.CmdDeleteZone:
		zone, err := safeToken("zone", normalizeZone(stringParam(parameters, "zone")))
		if err != nil {
			return nil, false, err
		}
		if commandType == model.CmdNewZone {
			return []string{"--permanent", "--new-zone", zone}, true, nil
		}
		return []string{"--permanent", "--delete-zone", zone}, true, nil
	}

	return nil, false, fmt.Errorf("unknown command: %s", commandType)
}

// RenderCommandLine joins firewall-cmd arguments into the shell line sent
// over a remote session.
func RenderCommandLine(args []string) string {
	return "firewall-cmd " + strings.Join(args, " ")
}

func permanentArgs(permanent bool) []string {
	if permanent {
		return []string{"--permanent"}
	}
	return []string{}
}

func zoneParam(parameters map[string]any) string {
	zone := normalizeZone(stringParam(parameters, "zone"))
	if zone == "" {
		zone = DefaultZone
	}
	return zone
}

// normalizeZone strips a literal --zone= prefix so callers may pass either a
// bare zone name or the already-flagged form.
func normalizeZone(zone string) string {
	return strings.TrimPrefix(zone, "--zone=")
}

func safeToken(name, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("missing %s parameter", name)
	}
	if !tokenPattern.MatchString(value) {
		return "", fmt.Errorf("invalid %s parameter: %q", name, value)
	}
	return value, nil
}

func stringParam(parameters map[string]any, key string) string {
	if parameters == nil {
		return ""
	}
	if v, ok := parameters[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func defaultProtocol(parameters map[string]any) string {
	if p := stringParam(parameters, "protocol"); p != "" {
		return p
	}
	return "tcp"
}

func boolParam(parameters map[string]any, key string, fallback bool) bool {
	if parameters == nil {
		return fallback
	}
	switch v := parameters[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0":
			return false
		}
	}
	return fallback
}
