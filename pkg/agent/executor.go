// Package agent implements the host-side agent: local firewall-cmd
// execution, the pull check-in loop and the push HTTP listener.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/fwcentral/fwcentral/internal/version"
	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/transport"
)

// Executor runs firewall-cmd on the local host.
type Executor struct {
	timeout time.Duration
}

// NewExecutor builds an executor with a per-invocation timeout.
func NewExecutor(timeoutSeconds int) *Executor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(model.DefaultCommandTimeout.Seconds())
	}
	return &Executor{timeout: time.Duration(timeoutSeconds) * time.Second}
}

func (e *Executor) runFirewallCmd(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "firewall-cmd", args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, fmt.Errorf("command timed out after %s", e.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}

// Execute runs one command from the shared vocabulary against the local
// firewall. Permanent mutating changes trigger a follow-up reload whose
// failure is reported as a warning, never as a command failure.
func (e *Executor) Execute(ctx context.Context, commandType model.CommandType, parameters map[string]any) transport.Result {
	commandType = model.NormalizeCommandType(string(commandType))
	if !model.KnownCommandType(commandType) {
		return transport.Result{Success: false, Output: fmt.Sprintf("Unknown command: %s", commandType)}
	}

	args, needsReload, err := transport.BuildArgs(commandType, parameters)
	if err != nil {
		return transport.Result{Success: false, Output: err.Error()}
	}

	stdout, stderr, code, err := e.runFirewallCmd(ctx, args...)
	if err != nil {
		return transport.Result{Success: false, Output: err.Error()}
	}

	success := code == 0
	output := stdout
	if !success && strings.TrimSpace(stderr) != "" {
		output = stderr
	}

	if success && needsReload {
		_, reloadStderr, reloadCode, reloadErr := e.runFirewallCmd(ctx, "--reload")
		if reloadErr != nil || reloadCode != 0 {
			detail := strings.TrimSpace(reloadStderr)
			if detail == "" && reloadErr != nil {
				detail = reloadErr.Error()
			}
			output = strings.TrimRight(output, "\n") + "\nWarning: reload failed: " + detail
			log.Warn().Str("detail", detail).Msg("Reload after permanent change failed")
		}
	}
	return transport.Result{Success: success, Output: output}
}

// ZoneDumps lists zones and captures each zone's full detail text.
func (e *Executor) ZoneDumps(ctx context.Context) ([]transport.ZoneDump, error) {
	stdout, stderr, code, err := e.runFirewallCmd(ctx, "--get-zones")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("failed to list zones: %s", strings.TrimSpace(stderr))
	}

	var dumps []transport.ZoneDump
	for _, zone := range strings.Fields(stdout) {
		detail, _, code, err := e.runFirewallCmd(ctx, "--zone="+zone, "--list-all")
		if err != nil {
			return nil, err
		}
		if code != 0 {
			continue
		}
		dumps = append(dumps, transport.ZoneDump{Name: zone, Details: detail})
	}
	return dumps, nil
}

// FirewalldVersion reports the installed firewalld version, empty when
// unavailable.
func (e *Executor) FirewalldVersion(ctx context.Context) string {
	stdout, _, code, err := e.runFirewallCmd(ctx, "--version")
	if err != nil || code != 0 {
		return ""
	}
	return strings.TrimSpace(stdout)
}

// FirewalldRunning reports whether firewalld answers --state with running.
func (e *Executor) FirewalldRunning(ctx context.Context) bool {
	stdout, _, code, err := e.runFirewallCmd(ctx, "--state")
	return err == nil && code == 0 && strings.TrimSpace(stdout) == "running"
}

// FirewallCmdAvailable reports whether the firewall-cmd binary resolves.
func FirewallCmdAvailable() bool {
	_, err := exec.LookPath("firewall-cmd")
	return err == nil
}

// HostInfo returns the local hostname and an OS identification string.
func HostInfo(ctx context.Context) (hostname, osInfo string) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to collect host info")
		return "", ""
	}
	osInfo = strings.TrimSpace(fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion))
	return info.Hostname, osInfo
}

// Health assembles the agent's self-reported health document.
func (e *Executor) Health(ctx context.Context) transport.Health {
	hostname, osInfo := HostInfo(ctx)
	return transport.Health{
		Status:               "healthy",
		Version:              version.Version,
		FirewalldAvailable:   e.FirewalldRunning(ctx),
		FirewallCmdAvailable: FirewallCmdAvailable(),
		Hostname:             hostname,
		OSInfo:               osInfo,
	}
}
