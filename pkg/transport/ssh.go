package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/fwcentral/fwcentral/pkg/model"
)

const (
	sshDialTimeout    = 10 * time.Second
	sshCommandTimeout = 30 * time.Second
)

// osReleaseProbes are consulted in order until one yields an identification
// string.
var osReleaseProbes = []struct {
	path  string
	parse func(string) string
}{
	{"/etc/os-release", parseOSRelease},
	{"/etc/redhat-release", strings.TrimSpace},
	{"/etc/debian_version", func(s string) string {
		if s = strings.TrimSpace(s); s != "" {
			return "Debian " + s
		}
		return ""
	}},
}

// SSHTransport runs firewall-cmd over a remote shell session. The session is
// opened lazily on first use and reused until Close.
type SSHTransport struct {
	agent *model.Agent
	saver OSInfoSaver

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHTransport builds a transport for an ssh-type agent. saver may be nil
// when OS detection results should be discarded.
func NewSSHTransport(agent *model.Agent, saver OSInfoSaver) *SSHTransport {
	return &SSHTransport{agent: agent, saver: saver}
}

func (t *SSHTransport) connect() (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	var auth []ssh.AuthMethod
	if t.agent.SSHKeyPath != "" {
		key, err := os.ReadFile(t.agent.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if t.agent.SSHPassword != "" {
		auth = append(auth, ssh.Password(t.agent.SSHPassword))
	}
	if len(auth) == 0 {
		return nil, errors.New("agent has no ssh credential")
	}

	config := &ssh.ClientConfig{
		User:            t.agent.SSHUsername,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}
	addr := fmt.Sprintf("%s:%d", t.agent.IPAddress, t.agent.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh connection failed: %w", err)
	}
	t.client = client
	return client, nil
}

// run executes one command line in its own session, bounded by ctx and a
// hard command timeout.
func (t *SSHTransport) run(ctx context.Context, line string) (stdout, stderr string, exitCode int, err error) {
	client, err := t.connect()
	if err != nil {
		return "", "", -1, err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	ctx, cancel := context.WithTimeout(ctx, sshCommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return outBuf.String(), errBuf.String(), -1, ctx.Err()
	case err = <-done:
	}

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, exitErr.ExitStatus(), nil
		}
		return stdout, stderr, -1, err
	}
	return stdout, stderr, 0, nil
}

// TestConnection opens the session, probes firewalld service state and
// firewall-cmd presence, and opportunistically persists the detected OS.
func (t *SSHTransport) TestConnection(ctx context.Context) Result {
	stdout, stderr, code, err := t.run(ctx, "systemctl is-active firewalld")
	if err != nil {
		return Result{Success: false, Output: fmt.Sprintf("SSH connection failed: %v", err)}
	}
	firewalldState := strings.TrimSpace(stdout)
	if firewalldState == "" {
		firewalldState = strings.TrimSpace(stderr)
	}
	firewalldActive := code == 0 && firewalldState == "active"

	_, _, code, err = t.run(ctx, "which firewall-cmd")
	cmdAvailable := err == nil && code == 0

	t.detectOS(ctx)

	var lines []string
	lines = append(lines, fmt.Sprintf("firewalld: %s", firewalldState))
	if cmdAvailable {
		lines = append(lines, "firewall-cmd: available")
	} else {
		lines = append(lines, "firewall-cmd: not found")
	}
	return Result{
		Success: firewalldActive && cmdAvailable,
		Output:  strings.Join(lines, "\n"),
	}
}

// detectOS reads well-known release files in priority order and persists the
// first hit. Failures are logged and swallowed.
func (t *SSHTransport) detectOS(ctx context.Context) {
	if t.saver == nil {
		return
	}
	for _, probe := range osReleaseProbes {
		stdout, _, code, err := t.run(ctx, "cat "+probe.path)
		if err != nil || code != 0 {
			continue
		}
		osInfo := probe.parse(stdout)
		if osInfo == "" {
			continue
		}
		if err := t.saver.SaveOSInfo(ctx, t.agent.ID, osInfo); err != nil {
			log.Warn().Err(err).Str("agent", t.agent.Hostname).Msg("Failed to persist detected OS")
		}
		return
	}
}

func parseOSRelease(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if value, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return ""
}

// ExecuteCommand translates the command, runs it and, for permanent mutating
// changes, issues a follow-up reload. A failed reload is reported as a
// warning appended to the output, not as a command failure.
func (t *SSHTransport) ExecuteCommand(ctx context.Context, commandType model.CommandType, parameters map[string]any) Result {
	args, needsReload, err := BuildArgs(commandType, parameters)
	if err != nil {
		return Result{Success: false, Output: err.Error()}
	}
	line := RenderCommandLine(args)

	stdout, stderr, code, err := t.run(ctx, line)
	if err != nil {
		return Result{Success: false, Output: err.Error(), Command: line}
	}

	success := code == 0
	output := stdout
	if !success && strings.TrimSpace(stderr) != "" {
		output = stderr
	}

	if success && needsReload {
		_, reloadStderr, reloadCode, reloadErr := t.run(ctx, "firewall-cmd --reload")
		if reloadErr != nil || reloadCode != 0 {
			detail := strings.TrimSpace(reloadStderr)
			if detail == "" && reloadErr != nil {
				detail = reloadErr.Error()
			}
			output = strings.TrimRight(output, "\n") + "\nWarning: reload failed: " + detail
			log.Warn().Str("agent", t.agent.Hostname).Str("detail", detail).Msg("Reload after permanent change failed")
		}
	}
	return Result{Success: success, Output: output, Command: line}
}

// GetFirewallStatus reports the firewalld running state.
func (t *SSHTransport) GetFirewallStatus(ctx context.Context) Result {
	stdout, stderr, code, err := t.run(ctx, "firewall-cmd --state")
	if err != nil {
		return Result{Success: false, Output: err.Error()}
	}
	output := strings.TrimSpace(stdout)
	if code != 0 && strings.TrimSpace(stderr) != "" {
		output = strings.TrimSpace(stderr)
	}
	return Result{Success: code == 0, Output: output}
}

// GetZones lists zone names and fetches each zone's full detail text.
func (t *SSHTransport) GetZones(ctx context.Context) ([]ZoneDump, error) {
	stdout, stderr, code, err := t.run(ctx, "firewall-cmd --get-zones")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("failed to list zones: %s", strings.TrimSpace(stderr))
	}

	var dumps []ZoneDump
	for _, zone := range strings.Fields(stdout) {
		detail, _, code, err := t.run(ctx, fmt.Sprintf("firewall-cmd --zone=%s --list-all", zone))
		if err != nil {
			return nil, err
		}
		if code != 0 {
			continue
		}
		dumps = append(dumps, ZoneDump{Name: zone, Details: detail})
	}
	return dumps, nil
}

// GetRules returns the same per-zone dumps as GetZones; rule rows are
// derived from them downstream.
func (t *SSHTransport) GetRules(ctx context.Context) ([]ZoneDump, error) {
	return t.GetZones(ctx)
}

// GetAvailableServices enumerates the service definitions firewalld knows.
func (t *SSHTransport) GetAvailableServices(ctx context.Context) ([]string, error) {
	stdout, stderr, code, err := t.run(ctx, "firewall-cmd --get-services")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("failed to list services: %s", strings.TrimSpace(stderr))
	}
	return strings.Fields(stdout), nil
}

// Close releases the underlying session.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
