package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fwcentrald.conf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadServerDefaults(t *testing.T) {
	path := writeConfig(t, "[server]\napi_key = secret\n")

	settings := LoadServer([]string{path})

	if settings.Listen != DefaultListen {
		t.Errorf("Expected default listen %q, got %q", DefaultListen, settings.Listen)
	}
	if settings.SyncCheckInterval != DefaultSyncCheckInterval {
		t.Errorf("Expected default sync check interval %d, got %d", DefaultSyncCheckInterval, settings.SyncCheckInterval)
	}
	if settings.PoolMaxWorkers != DefaultPoolMaxWorkers {
		t.Errorf("Expected default pool max workers %d, got %d", DefaultPoolMaxWorkers, settings.PoolMaxWorkers)
	}
}

func TestLoadServerCustomValues(t *testing.T) {
	path := writeConfig(t, `[server]
listen = :9000
api_key = secret

[database]
path = /tmp/test.db

[sync]
check_interval = 3
checkin_interval = 15

[pool]
max_workers = 50
queue_size = 500
`)

	settings := LoadServer([]string{path})

	if settings.Listen != ":9000" {
		t.Errorf("Expected listen :9000, got %q", settings.Listen)
	}
	if settings.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %q", settings.DatabasePath)
	}
	if settings.SyncCheckInterval != 3 {
		t.Errorf("Expected sync check interval 3, got %d", settings.SyncCheckInterval)
	}
	if settings.CheckinInterval != 15 {
		t.Errorf("Expected checkin interval 15, got %d", settings.CheckinInterval)
	}
	if settings.PoolMaxWorkers != 50 || settings.PoolQueueSize != 500 {
		t.Errorf("Expected pool 50/500, got %d/%d", settings.PoolMaxWorkers, settings.PoolQueueSize)
	}
}

func TestLoadAgentDefaults(t *testing.T) {
	path := writeConfig(t, "[server]\nurl = http://localhost:8001\n")

	settings := LoadAgent([]string{path})

	if settings.Mode != "pull" {
		t.Errorf("Expected default mode pull, got %q", settings.Mode)
	}
	if settings.CheckinInterval != DefaultCheckinInterval {
		t.Errorf("Expected default checkin interval %d, got %d", DefaultCheckinInterval, settings.CheckinInterval)
	}
	if settings.ListenPort != 8444 {
		t.Errorf("Expected default listen port 8444, got %d", settings.ListenPort)
	}
}

func TestLoadAgentPushMode(t *testing.T) {
	path := writeConfig(t, `[server]
url = http://localhost:8001

[agent]
mode = push
listen_port = 9444
api_key = agent-token
`)

	settings := LoadAgent([]string{path})

	if settings.Mode != "push" {
		t.Errorf("Expected mode push, got %q", settings.Mode)
	}
	if settings.ListenPort != 9444 {
		t.Errorf("Expected listen port 9444, got %d", settings.ListenPort)
	}
	if settings.APIKey != "agent-token" {
		t.Errorf("Expected api key agent-token, got %q", settings.APIKey)
	}
}
