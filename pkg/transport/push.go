package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fwcentral/fwcentral/pkg/model"
)

const pushRequestTimeout = 30 * time.Second

// PushTransport talks to an agent that runs its own HTTP listener. Requests
// carry the agent's API key as a bearer token; no connection state is kept.
type PushTransport struct {
	agent   *model.Agent
	baseURL string
	client  *http.Client
}

// NewPushTransport builds a transport for a server_to_agent agent.
func NewPushTransport(agent *model.Agent) *PushTransport {
	return &PushTransport{
		agent:   agent,
		baseURL: fmt.Sprintf("http://%s:%d", agent.IPAddress, agent.AgentPort),
		client:  &http.Client{Timeout: pushRequestTimeout},
	}
}

type executeRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

type executeResponse struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output"`
}

func (t *PushTransport) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.agent.AgentAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.client.Do(req)
}

func (t *PushTransport) execute(ctx context.Context, commandType model.CommandType, parameters map[string]any) (*executeResponse, error) {
	resp, err := t.do(ctx, http.MethodPost, "/execute", executeRequest{
		Command:    string(commandType),
		Parameters: parameters,
	})
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("agent rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var parsed executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	return &parsed, nil
}

// outputText renders an agent output payload, which may be a JSON string or
// any structured value, as display text.
func outputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// TestConnection probes the agent's /health endpoint.
func (t *PushTransport) TestConnection(ctx context.Context) Result {
	health, err := t.FetchHealth(ctx)
	if err != nil {
		return Result{Success: false, Output: err.Error()}
	}
	output, _ := json.Marshal(health)
	return Result{
		Success: health.FirewalldAvailable && health.FirewallCmdAvailable,
		Output:  string(output),
	}
}

// FetchHealth retrieves and decodes the agent's health report.
func (t *PushTransport) FetchHealth(ctx context.Context) (*Health, error) {
	resp, err := t.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, fmt.Errorf("agent unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// ExecuteCommand POSTs the command to the agent's /execute endpoint.
func (t *PushTransport) ExecuteCommand(ctx context.Context, commandType model.CommandType, parameters map[string]any) Result {
	resp, err := t.execute(ctx, commandType, parameters)
	if err != nil {
		return Result{Success: false, Output: err.Error()}
	}
	return Result{Success: resp.Success, Output: outputText(resp.Output)}
}

// GetFirewallStatus asks the agent for firewalld state.
func (t *PushTransport) GetFirewallStatus(ctx context.Context) Result {
	resp, err := t.execute(ctx, model.CmdGetStatus, nil)
	if err != nil {
		return Result{Success: false, Output: err.Error()}
	}
	return Result{Success: resp.Success, Output: outputText(resp.Output)}
}

// GetZones asks the agent for all zones with their detail text.
func (t *PushTransport) GetZones(ctx context.Context) ([]ZoneDump, error) {
	resp, err := t.execute(ctx, model.CmdGetZones, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("agent failed to list zones: %s", outputText(resp.Output))
	}
	var dumps []ZoneDump
	if err := json.Unmarshal(resp.Output, &dumps); err != nil {
		return nil, fmt.Errorf("unexpected zone payload: %w", err)
	}
	return dumps, nil
}

// GetRules delegates to GetZones; rules are derived from zone dumps.
func (t *PushTransport) GetRules(ctx context.Context) ([]ZoneDump, error) {
	return t.GetZones(ctx)
}

// GetAvailableServices asks the agent to enumerate firewalld services.
func (t *PushTransport) GetAvailableServices(ctx context.Context) ([]string, error) {
	resp, err := t.execute(ctx, model.CmdGetServices, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("agent failed to list services: %s", outputText(resp.Output))
	}
	var services []string
	if err := json.Unmarshal(resp.Output, &services); err != nil {
		// agents may return the raw space separated list
		return strings.Fields(outputText(resp.Output)), nil
	}
	return services, nil
}

// Close is a no-op; the push transport keeps no connection state.
func (t *PushTransport) Close() error { return nil }
