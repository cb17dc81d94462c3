package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the file LoadBootstrapConfig reads from the config directory.
const BootstrapFileName = "simcontroller.yaml"

// Engine backends understood by backend.Open.
const (
	BackendKinesim = "kinesim"
	BackendBridge  = "bridge"
)

// BootstrapConfig holds the process-level settings loaded from simcontroller.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	ZeroMQ     ZeroMQBootstrap  `yaml:"zeromq"`
	Data       DataConfig       `yaml:"data"`
	Processing ProcessingConfig `yaml:"processing"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// ServerConfig holds the monitor HTTP server settings. Port 0 disables the server.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// EngineConfig selects and configures the simulation backend.
type EngineConfig struct {
	Backend string        `yaml:"backend"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Kinesim KinesimConfig `yaml:"kinesim"`
}

// BridgeConfig configures the ZeroMQ connection to an out-of-process simulator.
type BridgeConfig struct {
	RequestAddress string `yaml:"request_address"`
	TimeoutMs      int    `yaml:"timeout_ms"`
}

// KinesimConfig configures the in-process kinematic backend.
type KinesimConfig struct {
	Realtime bool    `yaml:"realtime"`
	UpperArm float64 `yaml:"upper_arm"`
	Forearm  float64 `yaml:"forearm"`
}

// ZeroMQBootstrap holds the progress publisher settings
type ZeroMQBootstrap struct {
	ProgressBindAddress string `yaml:"progress_bind_address"`
	MessageBufferSize   int    `yaml:"message_buffer_size"`
}

// ProcessingConfig sizes the event dispatch pool
type ProcessingConfig struct {
	EventWorkers   int `yaml:"event_workers"`
	EventQueueSize int `yaml:"event_queue_size"`
	// Priorities overrides the dispatch priority (HIGH, STANDARD, LOW) per event kind
	Priorities map[string]string `yaml:"priorities,omitempty"`
}

// DataConfig holds asset, scenario and output locations
type DataConfig struct {
	AssetDirectory   string `yaml:"asset_directory"`
	ScenarioFilename string `yaml:"scenario_file,omitempty"`
	OutputDirectory  string `yaml:"output_directory"`
	Manifest         bool   `yaml:"manifest"`
}

// LoadBootstrapConfig loads the bootstrap configuration from simcontroller.yaml in configDir
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := bootstrapCfg.validate(); err != nil {
		return nil, err
	}
	bootstrapCfg.applyDefaults()

	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) validate() error {
	switch c.Engine.Backend {
	case BackendKinesim, BackendBridge:
	case "":
		return fmt.Errorf("missing required field in bootstrap config: engine.backend")
	default:
		return fmt.Errorf("invalid engine.backend %q in bootstrap config (want %s or %s)",
			c.Engine.Backend, BackendKinesim, BackendBridge)
	}
	if c.Engine.Backend == BackendBridge && c.Engine.Bridge.RequestAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: engine.bridge.request_address")
	}
	if c.Data.OutputDirectory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.output_directory")
	}
	if c.Server.HTTPPort < 0 {
		return fmt.Errorf("invalid server.http_port %d in bootstrap config", c.Server.HTTPPort)
	}
	return nil
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.Bridge.TimeoutMs <= 0 {
		c.Engine.Bridge.TimeoutMs = 10000
	}
	if c.Engine.Kinesim.UpperArm <= 0 {
		c.Engine.Kinesim.UpperArm = 0.612
	}
	if c.Engine.Kinesim.Forearm <= 0 {
		c.Engine.Kinesim.Forearm = 0.5723
	}
	if c.ZeroMQ.MessageBufferSize <= 0 {
		c.ZeroMQ.MessageBufferSize = 1000
	}
	if c.Processing.EventWorkers <= 0 {
		c.Processing.EventWorkers = 1
	}
	if c.Processing.EventQueueSize <= 0 {
		c.Processing.EventQueueSize = 256
	}
}
