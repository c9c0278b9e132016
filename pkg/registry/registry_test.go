package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwcentral/fwcentral/pkg/model"
	"github.com/fwcentral/fwcentral/pkg/pki"
	"github.com/fwcentral/fwcentral/pkg/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ca, err := pki.NewManager(t.TempDir())
	require.NoError(t, err)

	return New(st, ca, nil), st
}

func pullRequest(hostname string) *RegisterRequest {
	return &RegisterRequest{
		Hostname:       hostname,
		IPAddress:      "192.0.2.10",
		ConnectionType: model.ConnAgentToServer,
	}
}

func TestRegisterPullAgent(t *testing.T) {
	r, _ := newTestRegistry(t)

	resp, err := r.Register(context.Background(), pullRequest("h1.example.com"))
	require.NoError(t, err)

	assert.Equal(t, model.AgentPending, resp.Agent.Status)
	assert.Equal(t, model.ModePull, resp.Agent.Mode)
	assert.Len(t, resp.SharedSecret, 64)
	assert.Equal(t, 30, resp.CheckinIntervalSeconds)
	assert.Nil(t, resp.Certificate)
}

func TestRegisterIsIdempotentByHostname(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, pullRequest("h1"))
	require.NoError(t, err)

	req := pullRequest("h1")
	req.IPAddress = "192.0.2.99"
	second, err := r.Register(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Agent.ID, second.Agent.ID)
	assert.Equal(t, "192.0.2.99", second.Agent.IPAddress)
	// re-registration keeps the original secret
	assert.Equal(t, first.SharedSecret, second.SharedSecret)

	agents, err := st.ListAgents(ctx, "")
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestRegisterSSHRequiresCredential(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register(context.Background(), &RegisterRequest{
		Hostname:       "ssh1.example.com",
		IPAddress:      "192.0.2.10",
		ConnectionType: model.ConnSSH,
		SSHUsername:    "root",
	})
	require.Error(t, err)

	_, err = r.Register(context.Background(), &RegisterRequest{
		Hostname:       "ssh1.example.com",
		IPAddress:      "192.0.2.10",
		ConnectionType: model.ConnSSH,
		SSHUsername:    "root",
		SSHPassword:    "hunter2",
	})
	assert.NoError(t, err)
}

func TestRegisterPushAgentGetsCertificate(t *testing.T) {
	r, st := newTestRegistry(t)

	resp, err := r.Register(context.Background(), &RegisterRequest{
		Hostname:       "push1.example.com",
		IPAddress:      "192.0.2.20",
		ConnectionType: model.ConnServerToAgent,
		AgentPort:      8444,
		AgentAPIKey:    "key",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Certificate)
	assert.Contains(t, resp.Certificate.Certificate, "BEGIN CERTIFICATE")
	assert.Contains(t, resp.Certificate.PrivateKey, "PRIVATE KEY")

	stored, err := st.GetAgent(context.Background(), resp.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.Certificate.Certificate, stored.Certificate)
}

func TestRegisterRejectsInvalidRequest(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register(context.Background(), &RegisterRequest{
		ConnectionType: model.ConnAgentToServer,
	})
	assert.Error(t, err)

	_, err = r.Register(context.Background(), &RegisterRequest{
		Hostname:       "h1",
		ConnectionType: model.ConnectionType("carrier_pigeon"),
	})
	assert.Error(t, err)
}

func TestApproveRejectOnlyFromPending(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	resp, err := r.Register(ctx, pullRequest("h1"))
	require.NoError(t, err)
	id := resp.Agent.ID

	require.NoError(t, r.Approve(ctx, id))
	got, err := st.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AgentApproved, got.Status)

	// second approve and late reject both fail
	assert.Error(t, r.Approve(ctx, id))
	assert.Error(t, r.Reject(ctx, id))
}

func TestAuthenticate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	resp, err := r.Register(ctx, pullRequest("h1"))
	require.NoError(t, err)

	agent, err := r.Authenticate(ctx, resp.Agent.ID, resp.SharedSecret)
	require.NoError(t, err)
	assert.Equal(t, resp.Agent.ID, agent.ID)

	_, err = r.Authenticate(ctx, resp.Agent.ID, "wrong")
	assert.Error(t, err)

	require.NoError(t, r.Reject(ctx, resp.Agent.ID))
	_, err = r.Authenticate(ctx, resp.Agent.ID, resp.SharedSecret)
	assert.Error(t, err)
}

func TestSweepStaleBoundary(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	silent, err := r.Register(ctx, pullRequest("silent"))
	require.NoError(t, err)
	require.NoError(t, st.Heartbeat(ctx, silent.Agent.ID, now.Add(-11*time.Minute), "", ""))

	// a heartbeat at minute nine keeps the agent online
	chatty, err := r.Register(ctx, pullRequest("chatty"))
	require.NoError(t, err)
	require.NoError(t, st.Heartbeat(ctx, chatty.Agent.ID, now.Add(-9*time.Minute), "", ""))

	n, err := r.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetAgent(ctx, silent.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentOffline, got.Status)

	got, err = st.GetAgent(ctx, chatty.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, got.Status)
}

func TestRegenerateCertificate(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	resp, err := r.Register(ctx, &RegisterRequest{
		Hostname:       "push1",
		IPAddress:      "192.0.2.20",
		ConnectionType: model.ConnServerToAgent,
		AgentAPIKey:    "key",
	})
	require.NoError(t, err)

	bundle, err := r.RegenerateCertificate(ctx, resp.Agent.ID)
	require.NoError(t, err)
	assert.NotEqual(t, resp.Certificate.Certificate, bundle.Certificate)

	stored, err := st.GetAgent(ctx, resp.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, bundle.Certificate, stored.Certificate)

	// pull agents have no certificate material
	pull, err := r.Register(ctx, pullRequest("pull1"))
	require.NoError(t, err)
	_, err = r.RegenerateCertificate(ctx, pull.Agent.ID)
	assert.Error(t, err)
}

func TestDeleteAgent(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	resp, err := r.Register(ctx, pullRequest("h1"))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, resp.Agent.ID))

	_, err = st.GetAgent(ctx, resp.Agent.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
