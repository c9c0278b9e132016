package config

// ServerSettings holds the validated runtime configuration of fwcentrald.
type ServerSettings struct {
	Listen             string
	APIKey             string
	DatabasePath       string
	PKIDir             string
	SyncCheckInterval  int // seconds between reconciler ticks
	CommandSweep       int // seconds between command timeout sweeps
	StaleSweep         int // seconds between agent staleness sweeps
	CheckinInterval    int // suggested check-in interval handed to pull agents
	PoolMaxWorkers     int
	PoolQueueSize      int
	PoolDefaultTimeout int
}

// AgentSettings holds the validated runtime configuration of fwcentral-agent.
type AgentSettings struct {
	ServerURL       string
	AgentID         string
	SharedSecret    string
	Mode            string // push or pull
	ListenPort      int    // push mode HTTP listener
	APIKey          string // push mode bearer token
	CheckinInterval int    // pull mode, seconds
	CommandTimeout  int    // seconds per firewall-cmd invocation
}

// ServerConfig maps the fwcentrald ini file.
type ServerConfig struct {
	Server struct {
		Listen string `ini:"listen"`
		APIKey string `ini:"api_key"`
	} `ini:"server"`
	Database struct {
		Path string `ini:"path"`
	} `ini:"database"`
	PKI struct {
		Dir string `ini:"dir"`
	} `ini:"pki"`
	Sync struct {
		CheckInterval   int `ini:"check_interval"`
		CommandSweep    int `ini:"command_sweep"`
		StaleSweep      int `ini:"stale_sweep"`
		CheckinInterval int `ini:"checkin_interval"`
	} `ini:"sync"`
	Pool struct {
		MaxWorkers     int  `ini:"max_workers"`
		QueueSize      int  `ini:"queue_size"`
		DefaultTimeout *int `ini:"default_timeout"`
	} `ini:"pool"`
	Logging struct {
		Debug bool `ini:"debug"`
	} `ini:"logging"`
}

// AgentConfig maps the fwcentral-agent ini file.
type AgentConfig struct {
	Server struct {
		URL    string `ini:"url"`
		ID     string `ini:"id"`
		Secret string `ini:"secret"`
	} `ini:"server"`
	Agent struct {
		Mode            string `ini:"mode"`
		ListenPort      int    `ini:"listen_port"`
		APIKey          string `ini:"api_key"`
		CheckinInterval int    `ini:"checkin_interval"`
		CommandTimeout  int    `ini:"command_timeout"`
	} `ini:"agent"`
	Logging struct {
		Debug bool `ini:"debug"`
	} `ini:"logging"`
}
