package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwcentral/fwcentral/pkg/model"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name        string
		commandType model.CommandType
		parameters  map[string]any
		want        []string
		needsReload bool
		wantErr     bool
	}{
		{
			name:        "get zones",
			commandType: model.CmdGetZones,
			want:        []string{"--get-zones"},
		},
		{
			name:        "get default zone",
			commandType: model.CmdGetDefaultZone,
			want:        []string{"--get-default-zone"},
		},
		{
			name:        "get services",
			commandType: model.CmdGetServices,
			want:        []string{"--get-services"},
		},
		{
			name:        "status",
			commandType: model.CmdGetStatus,
			want:        []string{"--state"},
		},
		{
			name:        "reload carries no follow-up",
			commandType: model.CmdReload,
			want:        []string{"--reload"},
		},
		{
			name:        "list all without zone",
			commandType: model.CmdListAll,
			want:        []string{"--list-all"},
		},
		{
			name:        "list all scoped to zone",
			commandType: model.CmdListAll,
			parameters:  map[string]any{"zone": "dmz"},
			want:        []string{"--zone", "dmz", "--list-all"},
		},
		{
			name:        "add service defaults to permanent public",
			commandType: model.CmdAddService,
			parameters:  map[string]any{"service": "https"},
			want:        []string{"--permanent", "--zone", "public", "--add-service", "https"},
			needsReload: true,
		},
		{
			name:        "remove service runtime only",
			commandType: model.CmdRemoveService,
			parameters:  map[string]any{"service": "http", "zone": "dmz", "permanent": false},
			want:        []string{"--zone", "dmz", "--remove-service", "http"},
		},
		{
			name:        "zone flag form is normalized",
			commandType: model.CmdAddService,
			parameters:  map[string]any{"service": "ssh", "zone": "--zone=work"},
			want:        []string{"--permanent", "--zone", "work", "--add-service", "ssh"},
			needsReload: true,
		},
		{
			name:        "add port without protocol defaults tcp",
			commandType: model.CmdAddPort,
			parameters:  map[string]any{"port": "8080"},
			want:        []string{"--permanent", "--zone", "public", "--add-port", "8080/tcp"},
			needsReload: true,
		},
		{
			name:        "add port range with protocol",
			commandType: model.CmdAddPort,
			parameters:  map[string]any{"port": "8080-8090/udp", "zone": "internal"},
			want:        []string{"--permanent", "--zone", "internal", "--add-port", "8080-8090/udp"},
			needsReload: true,
		},
		{
			name:        "remove port",
			commandType: model.CmdRemovePort,
			parameters:  map[string]any{"port": "443/tcp"},
			want:        []string{"--permanent", "--zone", "public", "--remove-port", "443/tcp"},
			needsReload: true,
		},
		{
			name:        "new zone is always permanent",
			commandType: model.CmdNewZone,
			parameters:  map[string]any{"zone": "staging"},
			want:        []string{"--permanent", "--new-zone", "staging"},
			needsReload: true,
		},
		{
			name:        "delete zone",
			commandType: model.CmdDeleteZone,
			parameters:  map[string]any{"zone": "staging"},
			want:        []string{"--permanent", "--delete-zone", "staging"},
			needsReload: true,
		},
		{
			name:        "missing service parameter",
			commandType: model.CmdAddService,
			wantErr:     true,
		},
		{
			name:        "missing port parameter",
			commandType: model.CmdAddPort,
			wantErr:     true,
		},
		{
			name:        "missing zone for new zone",
			commandType: model.CmdNewZone,
			wantErr:     true,
		},
		{
			name:        "shell metacharacters rejected",
			commandType: model.CmdAddService,
			parameters:  map[string]any{"service": "https; rm -rf /"},
			wantErr:     true,
		},
		{
			name:        "unknown command",
			commandType: model.CommandType("panic_mode"),
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, needsReload, err := BuildArgs(tt.commandType, tt.parameters)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, args)
			assert.Equal(t, tt.needsReload, needsReload)
		})
	}
}

func TestRenderCommandLine(t *testing.T) {
	args, _, err := BuildArgs(model.CmdAddService, map[string]any{"service": "https"})
	require.NoError(t, err)
	assert.Equal(t, "firewall-cmd --permanent --zone public --add-service https", RenderCommandLine(args))
}

func TestParseOSRelease(t *testing.T) {
	content := "NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 22.04.3 LTS\"\nVERSION_ID=\"22.04\"\n"
	assert.Equal(t, "Ubuntu 22.04.3 LTS", parseOSRelease(content))
	assert.Empty(t, parseOSRelease("NAME=foo\n"))
}
