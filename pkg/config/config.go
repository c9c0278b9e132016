// Package config loads and validates ini configuration for the fwcentral
// binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

const (
	DefaultListen            = ":8001"
	DefaultDatabasePath      = "/var/lib/fwcentral/fwcentral.db"
	DefaultPKIDir            = "/etc/fwcentral/pki"
	DefaultSyncCheckInterval = 10
	DefaultCommandSweep      = 5
	DefaultStaleSweep        = 60
	DefaultCheckinInterval   = 30
	DefaultCommandTimeout    = 30

	DefaultPoolMaxWorkers     = 20
	DefaultPoolQueueSize      = 200
	DefaultPoolDefaultTimeout = 30
)

// Files returns the candidate config file locations for a binary, most
// specific first.
func Files(name string) []string {
	return []string{
		fmt.Sprintf("/etc/fwcentral/%s.conf", name),
		filepath.Join(os.Getenv("HOME"), fmt.Sprintf(".%s.conf", name)),
	}
}

// LoadServer reads the first usable config file and returns validated server
// settings. Missing files fall through to the next candidate; an unusable
// configuration is fatal.
func LoadServer(configFiles []string) ServerSettings {
	var cfg ServerConfig
	loadInto(configFiles, &cfg)

	if cfg.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	settings := ServerSettings{
		Listen:             DefaultListen,
		DatabasePath:       DefaultDatabasePath,
		PKIDir:             DefaultPKIDir,
		SyncCheckInterval:  DefaultSyncCheckInterval,
		CommandSweep:       DefaultCommandSweep,
		StaleSweep:         DefaultStaleSweep,
		CheckinInterval:    DefaultCheckinInterval,
		PoolMaxWorkers:     DefaultPoolMaxWorkers,
		PoolQueueSize:      DefaultPoolQueueSize,
		PoolDefaultTimeout: DefaultPoolDefaultTimeout,
	}

	if cfg.Server.Listen != "" {
		settings.Listen = cfg.Server.Listen
	}
	if cfg.Server.APIKey == "" {
		log.Fatal().Msg("server api_key is empty. Aborting...")
	}
	settings.APIKey = cfg.Server.APIKey

	if cfg.Database.Path != "" {
		settings.DatabasePath = cfg.Database.Path
	}
	if cfg.PKI.Dir != "" {
		settings.PKIDir = cfg.PKI.Dir
	}
	if cfg.Sync.CheckInterval > 0 {
		settings.SyncCheckInterval = cfg.Sync.CheckInterval
	}
	if cfg.Sync.CommandSweep > 0 {
		settings.CommandSweep = cfg.Sync.CommandSweep
	}
	if cfg.Sync.StaleSweep > 0 {
		settings.StaleSweep = cfg.Sync.StaleSweep
	}
	if cfg.Sync.CheckinInterval > 0 {
		settings.CheckinInterval = cfg.Sync.CheckinInterval
	}
	if cfg.Pool.MaxWorkers > 0 {
		settings.PoolMaxWorkers = cfg.Pool.MaxWorkers
	}
	if cfg.Pool.QueueSize > 0 {
		settings.PoolQueueSize = cfg.Pool.QueueSize
	}
	if cfg.Pool.DefaultTimeout != nil {
		settings.PoolDefaultTimeout = *cfg.Pool.DefaultTimeout
	}

	return settings
}

// LoadAgent reads the first usable config file and returns validated agent
// settings.
func LoadAgent(configFiles []string) AgentSettings {
	var cfg AgentConfig
	loadInto(configFiles, &cfg)

	if cfg.Logging.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	settings := AgentSettings{
		Mode:            "pull",
		ListenPort:      8444,
		CheckinInterval: DefaultCheckinInterval,
		CommandTimeout:  DefaultCommandTimeout,
	}

	if cfg.Server.URL == "" {
		log.Fatal().Msg("Server url is empty. Aborting...")
	}
	settings.ServerURL = cfg.Server.URL
	settings.AgentID = cfg.Server.ID
	settings.SharedSecret = cfg.Server.Secret

	switch cfg.Agent.Mode {
	case "":
	case "push", "pull":
		settings.Mode = cfg.Agent.Mode
	default:
		log.Fatal().Msgf("Unknown agent mode %q. Aborting...", cfg.Agent.Mode)
	}

	if settings.Mode == "push" && cfg.Agent.APIKey == "" {
		log.Fatal().Msg("Push mode requires an api_key. Aborting...")
	}
	settings.APIKey = cfg.Agent.APIKey

	if cfg.Agent.ListenPort > 0 {
		settings.ListenPort = cfg.Agent.ListenPort
	}
	if cfg.Agent.CheckinInterval > 0 {
		settings.CheckinInterval = cfg.Agent.CheckinInterval
	}
	if cfg.Agent.CommandTimeout > 0 {
		settings.CommandTimeout = cfg.Agent.CommandTimeout
	}

	return settings
}

func loadInto(configFiles []string, out any) {
	var validConfigFile string
	for _, configFile := range configFiles {
		fileInfo, statErr := os.Stat(configFile)
		if statErr != nil {
			if !os.IsNotExist(statErr) {
				log.Error().Err(statErr).Msgf("Error accessing config file %s.", configFile)
			}
			continue
		}
		if fileInfo.Size() == 0 {
			log.Debug().Msgf("Config file %s is empty, skipping...", configFile)
			continue
		}
		validConfigFile = configFile
		break
	}

	if validConfigFile == "" {
		log.Fatal().Msg("No valid config file found.")
	}

	iniData, err := ini.Load(validConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to load config file %s.", validConfigFile)
	}
	if err := iniData.MapTo(out); err != nil {
		log.Fatal().Err(err).Msgf("failed to parse config file %s.", validConfigFile)
	}

	log.Debug().Msgf("Using config file %s.", validConfigFile)
}
