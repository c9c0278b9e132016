package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwcentral/fwcentral/pkg/model"
)

func newPushTestServer(t *testing.T, handler http.Handler) *PushTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewPushTransport(&model.Agent{
		ID:             "a1",
		Hostname:       "push.example.com",
		IPAddress:      u.Hostname(),
		AgentPort:      port,
		ConnectionType: model.ConnServerToAgent,
		AgentAPIKey:    "secret-key",
	})
}

func TestPushExecuteCommand(t *testing.T) {
	var gotAuth string
	var gotBody executeRequest

	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/execute", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "output": "success"})
	}))

	res := transport.ExecuteCommand(context.Background(), model.CmdAddService,
		map[string]any{"service": "https", "zone": "public"})

	assert.True(t, res.Success)
	assert.Equal(t, "success", res.Output)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "add_service", gotBody.Command)
	assert.Equal(t, "https", gotBody.Parameters["service"])
}

func TestPushExecuteCommandFailure(t *testing.T) {
	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "output": "Missing service parameter"})
	}))

	res := transport.ExecuteCommand(context.Background(), model.CmdAddService, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Missing service parameter", res.Output)
}

func TestPushRejectedCredentials(t *testing.T) {
	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	res := transport.ExecuteCommand(context.Background(), model.CmdGetStatus, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "rejected credentials")
}

func TestPushTestConnection(t *testing.T) {
	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Health{
			Status:               "healthy",
			Version:              "1.0.0",
			FirewalldAvailable:   true,
			FirewallCmdAvailable: true,
			Hostname:             "push.example.com",
			OSInfo:               "Rocky Linux 9.3",
		})
	}))

	res := transport.TestConnection(context.Background())
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "Rocky Linux 9.3")
}

func TestPushTestConnectionDegraded(t *testing.T) {
	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Health{Status: "healthy", FirewalldAvailable: false})
	}))

	res := transport.TestConnection(context.Background())
	assert.False(t, res.Success)
}

func TestPushGetZones(t *testing.T) {
	transport := newPushTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "get_zones", req.Command)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"output": []ZoneDump{
				{Name: "public", Details: "public\n  services: ssh\n"},
				{Name: "dmz", Details: "dmz\n  services:\n"},
			},
		})
	}))

	dumps, err := transport.GetZones(context.Background())
	require.NoError(t, err)
	require.Len(t, dumps, 2)
	assert.Equal(t, "public", dumps[0].Name)
	assert.Contains(t, dumps[0].Details, "services: ssh")
}

func TestPushUnreachable(t *testing.T) {
	transport := NewPushTransport(&model.Agent{
		IPAddress:   "127.0.0.1",
		AgentPort:   1, // nothing listens here
		AgentAPIKey: "k",
	})

	res := transport.ExecuteCommand(context.Background(), model.CmdGetStatus, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "unreachable")
}
