package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/fwcentral/fwcentral/pkg/config"
	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/transport"
)

const (
	registerMinInterval = 5 * time.Second
	registerMaxInterval = time.Minute
	registerMaxElapsed  = 5 * time.Minute
)

// PullClient polls the central server: it checks in on a fixed cadence,
// executes whatever commands the server hands back and reports the results
// with a follow-up exchange in the same cycle.
type PullClient struct {
	settings config.AgentSettings
	executor *Executor
	reporter *Reporter
	client   *http.Client
	interval time.Duration
}

// NewPullClient builds a pull client from validated settings.
func NewPullClient(settings config.AgentSettings) *PullClient {
	interval := time.Duration(settings.CheckinInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PullClient{
		settings: settings,
		executor: NewExecutor(settings.CommandTimeout),
		reporter: NewReporter(),
		client:   &http.Client{Timeout: 30 * time.Second},
		interval: interval,
	}
}

type registerPayload struct {
	Hostname         string `json:"hostname"`
	IPAddress        string `json:"ip_address,omitempty"`
	ConnectionType   string `json:"connection_type"`
	OSInfo           string `json:"os_info,omitempty"`
	FirewalldVersion string `json:"firewalld_version,omitempty"`
}

// Registration is what a successful self-registration yields. The shared
// secret is shown once and must be stored in the agent's config file.
type Registration struct {
	AgentID                string `json:"agent_id"`
	SharedSecret           string `json:"shared_secret"`
	CheckinIntervalSeconds int    `json:"checkin_interval_seconds"`
}

// Register enrolls this host with the server, retrying with exponential
// backoff while the server is unreachable.
func (p *PullClient) Register(ctx context.Context) (*Registration, error) {
	hostname, osInfo := HostInfo(ctx)
	if hostname == "" {
		return nil, fmt.Errorf("could not determine local hostname")
	}
	payload := registerPayload{
		Hostname:         hostname,
		ConnectionType:   string(model.ConnAgentToServer),
		OSInfo:           osInfo,
		FirewalldVersion: p.executor.FirewalldVersion(ctx),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = registerMinInterval
	b.MaxInterval = registerMaxInterval
	b.MaxElapsedTime = registerMaxElapsed

	var reg *Registration
	operation := func() error {
		var err error
		reg, err = p.register(ctx, payload)
		if err != nil {
			log.Warn().Err(err).Msg("Registration attempt failed, will retry")
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return reg, nil
}

func (p *PullClient) register(ctx context.Context, payload registerPayload) (*Registration, error) {
	resp, err := p.post(ctx, "/api/v1/agents/register", payload)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration rejected with status %d", resp.StatusCode)
	}
	var body struct {
		Agent struct {
			ID string `json:"id"`
		} `json:"agent"`
		SharedSecret           string `json:"shared_secret"`
		CheckinIntervalSeconds int    `json:"checkin_interval_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	return &Registration{
		AgentID:                body.Agent.ID,
		SharedSecret:           body.SharedSecret,
		CheckinIntervalSeconds: body.CheckinIntervalSeconds,
	}, nil
}

func (p *PullClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(p.settings.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

// Run checks in until ctx is cancelled. The first check-in happens
// immediately so a freshly started agent picks up queued work without
// waiting a full interval.
func (p *PullClient) Run(ctx context.Context) error {
	if p.settings.AgentID == "" || p.settings.SharedSecret == "" {
		return fmt.Errorf("agent is not registered: agent id and shared secret are required")
	}

	log.Info().
		Str("server", p.settings.ServerURL).
		Dur("interval", p.interval).
		Msg("Starting check-in loop")

	if err := p.checkin(ctx); err != nil {
		log.Warn().Err(err).Msg("Check-in failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.checkin(ctx); err != nil {
				log.Warn().Err(err).Msg("Check-in failed")
			}
		}
	}
}

type serverCommand struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters"`
}

// maxCheckinRounds bounds the exchange loop per cycle so a server that keeps
// handing out work cannot stall the ticker forever.
const maxCheckinRounds = 5

// checkin runs one full cycle: deliver buffered results, execute whatever
// commands come back and repeat until an exchange returns no work, so fresh
// results reach the server before its timeout sweep can discard them.
func (p *PullClient) checkin(ctx context.Context) error {
	for round := 0; round < maxCheckinRounds; round++ {
		commands, err := p.exchange(ctx)
		if err != nil {
			return err
		}
		if len(commands) == 0 {
			return nil
		}
		for _, cmd := range commands {
			res := p.execute(ctx, cmd)
			p.reporter.Offer(cmd.ID, res.Success, res.Output)
		}
	}
	return nil
}

// exchange posts due results and the heartbeat in one request and returns
// the commands the server handed back. Undelivered results are requeued.
func (p *PullClient) exchange(ctx context.Context) ([]serverCommand, error) {
	results := p.reporter.Due(time.Now().UTC())
	commandResults := make([]map[string]any, 0, len(results))
	for _, r := range results {
		commandResults = append(commandResults, map[string]any{
			"command_id": r.CommandID,
			"success":    r.Success,
			"output":     r.Output,
		})
	}

	_, osInfo := HostInfo(ctx)
	payload := map[string]any{
		"agent_id":          p.settings.AgentID,
		"shared_secret":     p.settings.SharedSecret,
		"os_info":           osInfo,
		"firewalld_version": p.executor.FirewalldVersion(ctx),
		"command_results":   commandResults,
	}

	resp, err := p.post(ctx, "/api/v1/agents/checkin", payload)
	if err != nil {
		p.reporter.Requeue(results)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		p.reporter.Requeue(results)
		return nil, fmt.Errorf("check-in rejected with status %d", resp.StatusCode)
	}

	var body struct {
		Success  bool            `json:"success"`
		Commands []serverCommand `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// delivered results are acknowledged; only the command list is lost
		return nil, fmt.Errorf("failed to decode check-in response: %w", err)
	}
	return body.Commands, nil
}

// execute runs one server-issued command locally. Zone listings are
// serialized so the server's parser can rebuild its mirror from the output.
func (p *PullClient) execute(ctx context.Context, cmd serverCommand) transport.Result {
	commandType := model.NormalizeCommandType(cmd.Command)
	switch commandType {
	case model.CmdGetZones, model.CmdGetRules:
		dumps, err := p.executor.ZoneDumps(ctx)
		if err != nil {
			return transport.Result{Success: false, Output: err.Error()}
		}
		encoded, err := json.Marshal(dumps)
		if err != nil {
			return transport.Result{Success: false, Output: err.Error()}
		}
		return transport.Result{Success: true, Output: string(encoded)}
	default:
		return p.executor.Execute(ctx, commandType, cmd.Parameters)
	}
}

// Reporter exposes the result buffer, mainly for tests.
func (p *PullClient) Reporter() *Reporter { return p.reporter }
