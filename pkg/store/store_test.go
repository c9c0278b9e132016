package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwcentral/fwcentral/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAgent(t *testing.T, s *Store, hostname string) *model.Agent {
	t.Helper()
	a := &model.Agent{
		Hostname:       hostname,
		IPAddress:      "192.0.2.10",
		Port:           22,
		ConnectionType: model.ConnAgentToServer,
		Mode:           model.ModePull,
		Status:         model.AgentPending,
	}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestAgent(t, s, "h1.example.com")
	assert.NotEmpty(t, a.ID)

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1.example.com", got.Hostname)
	assert.Equal(t, model.AgentPending, got.Status)

	got.IPAddress = "192.0.2.20"
	got.Status = model.AgentApproved
	require.NoError(t, s.UpdateAgent(ctx, got))

	byHost, err := s.GetAgentByHostname(ctx, "h1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.20", byHost.IPAddress)
	assert.Equal(t, model.AgentApproved, byHost.Status)

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))
	assert.ErrorIs(t, s.DeleteAgent(ctx, a.ID), ErrNotFound)
}

func TestHostnameUnique(t *testing.T) {
	s := newTestStore(t)
	newTestAgent(t, s, "dup.example.com")

	err := s.CreateAgent(context.Background(), &model.Agent{
		Hostname:       "dup.example.com",
		ConnectionType: model.ConnSSH,
		Mode:           model.ModePush,
		Status:         model.AgentPending,
	})
	assert.Error(t, err)
}

func TestListAgentsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestAgent(t, s, "a.example.com")
	b := newTestAgent(t, s, "b.example.com")
	require.NoError(t, s.SetAgentStatus(ctx, b.ID, model.AgentApproved))

	all, err := s.ListAgents(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.ListAgents(ctx, model.AgentPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestHeartbeatConditionalFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "hb.example.com")

	now := time.Now().UTC()
	require.NoError(t, s.Heartbeat(ctx, a.ID, now, "Ubuntu 22.04", "1.3.1"))

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, got.Status)
	assert.Equal(t, "Ubuntu 22.04", got.OperatingSystem)
	require.NotNil(t, got.LastSeen)
	assert.WithinDuration(t, now, *got.LastSeen, time.Second)

	// empty fields must not clobber previously reported values
	require.NoError(t, s.Heartbeat(ctx, a.ID, now.Add(time.Minute), "", ""))
	got, err = s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu 22.04", got.OperatingSystem)
	assert.Equal(t, "1.3.1", got.FirewalldVersion)
}

func TestMarkStaleOffline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newTestAgent(t, s, "stale.example.com")
	require.NoError(t, s.Heartbeat(ctx, stale.ID, now.Add(-11*time.Minute), "", ""))

	fresh := newTestAgent(t, s, "fresh.example.com")
	require.NoError(t, s.Heartbeat(ctx, fresh.ID, now.Add(-9*time.Minute), "", ""))

	n, err := s.MarkStaleOffline(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetAgent(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentOffline, got.Status)

	got, err = s.GetAgent(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, got.Status)
}

func TestCommandLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "cmd.example.com")

	c := &model.AgentCommand{
		AgentID:     a.ID,
		CommandType: model.CmdAddService,
		Parameters:  map[string]any{"service": "https", "zone": "public"},
	}
	require.NoError(t, s.CreateCommand(ctx, c))
	assert.Equal(t, model.CommandPending, c.Status)
	assert.Equal(t, 30, c.TimeoutSeconds)

	ok, err := s.MarkExecuting(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// a second drain attempt must lose the race
	ok, err = s.MarkExecuting(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompleteCommand(ctx, c.ID, true, "success", "", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetCommand(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandCompleted, got.Status)
	assert.Equal(t, "success", got.Result)
	assert.Equal(t, "https", got.Parameters["service"])
	require.NotNil(t, got.CompletedAt)
}

func TestTerminalCommandsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "term.example.com")

	c := &model.AgentCommand{AgentID: a.ID, CommandType: model.CmdReload}
	require.NoError(t, s.CreateCommand(ctx, c))

	ok, err := s.CancelCommand(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// late result delivery for a cancelled command is dropped
	ok, err = s.CompleteCommand(ctx, c.ID, true, "late", "", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.MarkExecuting(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetCommand(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandCancelled, got.Status)
	assert.Empty(t, got.Result)
}

func TestPendingCommandsFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "fifo.example.com")

	types := []model.CommandType{model.CmdGetStatus, model.CmdGetZones, model.CmdReload}
	for _, ct := range types {
		require.NoError(t, s.CreateCommand(ctx, &model.AgentCommand{AgentID: a.ID, CommandType: ct}))
		time.Sleep(2 * time.Millisecond)
	}

	pending, err := s.PendingCommands(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, ct := range types {
		assert.Equal(t, ct, pending[i].CommandType)
	}
}

func TestTimeoutOverdue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "to.example.com")

	overdue := &model.AgentCommand{AgentID: a.ID, CommandType: model.CmdGetStatus, TimeoutSeconds: 5}
	require.NoError(t, s.CreateCommand(ctx, overdue))
	fresh := &model.AgentCommand{AgentID: a.ID, CommandType: model.CmdGetZones, TimeoutSeconds: 300}
	require.NoError(t, s.CreateCommand(ctx, fresh))

	// past the timeout but inside the processing grace nothing is swept
	ids, err := s.TimeoutOverdue(ctx, time.Now().UTC().Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.TimeoutOverdue(ctx,
		time.Now().UTC().Add(5*time.Second+model.CommandProcessingGrace+time.Second))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, overdue.ID, ids[0])

	got, err := s.GetCommand(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandTimeout, got.Status)
	assert.Equal(t, model.TimeoutErrorMessage, got.Error)

	got, err = s.GetCommand(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandPending, got.Status)
}

func TestReplaceMirror(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "mirror.example.com")

	first := []model.FirewallZone{
		{AgentID: a.ID, Name: "public", Target: "default", Services: []string{"ssh"}, Ports: []string{"80/tcp"}},
		{AgentID: a.ID, Name: "dmz", Target: "default"},
	}
	firstRules := []model.FirewallRule{
		{AgentID: a.ID, ZoneName: "public", RuleType: model.RuleService, Service: "ssh", Enabled: true, Permanent: true},
		{AgentID: a.ID, ZoneName: "public", RuleType: model.RulePort, Port: "80", Protocol: "tcp", Enabled: true, Permanent: true},
	}
	require.NoError(t, s.ReplaceMirror(ctx, a.ID, first, firstRules))

	zones, err := s.ListZones(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "dmz", zones[0].Name)
	assert.Equal(t, []string{"ssh"}, zones[1].Services)

	// second sync replaces, never accumulates
	second := []model.FirewallZone{
		{AgentID: a.ID, Name: "public", Target: "default", Services: []string{"ssh", "https"}},
	}
	secondRules := []model.FirewallRule{
		{AgentID: a.ID, ZoneName: "public", RuleType: model.RuleService, Service: "ssh", Enabled: true, Permanent: true},
		{AgentID: a.ID, ZoneName: "public", RuleType: model.RuleService, Service: "https", Enabled: true, Permanent: true},
	}
	require.NoError(t, s.ReplaceMirror(ctx, a.ID, second, secondRules))

	zones, err = s.ListZones(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, []string{"ssh", "https"}, zones[0].Services)

	rules, err := s.ListRules(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestReplaceMirrorRollsBackOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "rb.example.com")

	good := []model.FirewallZone{{AgentID: a.ID, Name: "public"}}
	require.NoError(t, s.ReplaceMirror(ctx, a.ID, good, nil))

	// duplicate zone name violates the unique constraint mid-transaction
	bad := []model.FirewallZone{
		{AgentID: a.ID, Name: "work"},
		{AgentID: a.ID, Name: "work"},
	}
	require.Error(t, s.ReplaceMirror(ctx, a.ID, bad, nil))

	zones, err := s.ListZones(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, "public", zones[0].Name)
}

func TestDeleteAgentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "casc.example.com")

	require.NoError(t, s.CreateCommand(ctx, &model.AgentCommand{AgentID: a.ID, CommandType: model.CmdReload}))
	require.NoError(t, s.ReplaceMirror(ctx, a.ID,
		[]model.FirewallZone{{AgentID: a.ID, Name: "public"}},
		[]model.FirewallRule{{AgentID: a.ID, ZoneName: "public", RuleType: model.RuleService, Service: "ssh"}}))

	require.NoError(t, s.DeleteAgent(ctx, a.ID))

	zones, err := s.ListZones(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, zones)
	cmds, err := s.ListCommands(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestConnections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newTestAgent(t, s, "web.example.com")
	b := newTestAgent(t, s, "db.example.com")

	c := &model.AgentConnection{
		SourceAgentID: a.ID,
		TargetAgentID: b.ID,
		TargetPort:    "5432",
		Protocol:      "tcp",
		Service:       "postgresql",
	}
	require.NoError(t, s.CreateConnection(ctx, c))

	list, err := s.ListConnections(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "5432", list[0].TargetPort)

	list, err = s.ListConnections(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteConnection(ctx, c.ID))
	assert.ErrorIs(t, s.DeleteConnection(ctx, c.ID), ErrNotFound)
}

func TestListSyncCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	on := newTestAgent(t, s, "on.example.com")
	on.SyncIntervalSeconds = 300
	on.Status = model.AgentOnline
	require.NoError(t, s.UpdateAgent(ctx, on))

	off := newTestAgent(t, s, "off.example.com")
	off.SyncIntervalSeconds = 0
	off.Status = model.AgentOnline
	require.NoError(t, s.UpdateAgent(ctx, off))

	pend := newTestAgent(t, s, "pend.example.com")
	pend.SyncIntervalSeconds = 300
	require.NoError(t, s.UpdateAgent(ctx, pend))

	got, err := s.ListSyncCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, on.ID, got[0].ID)
}
