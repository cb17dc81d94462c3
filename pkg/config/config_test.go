package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultScenario(t *testing.T) {
	scenario, err := LoadScenario("")
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}

	if scenario.Version != "1.0" {
		t.Errorf("Expected version 1.0, got %s", scenario.Version)
	}
	if len(scenario.Scene.Assets) != 5 {
		t.Errorf("Expected 5 scene assets, got %d", len(scenario.Scene.Assets))
	}
	if len(scenario.Scene.Robots) != 2 {
		t.Errorf("Expected 2 robots, got %d", len(scenario.Scene.Robots))
	}
	if scenario.Grasp.Arm != "left" {
		t.Errorf("Expected grasp arm left, got %s", scenario.Grasp.Arm)
	}
	if len(scenario.Grasp.Storyboard) != 14 {
		t.Errorf("Expected 14 storyboard steps, got %d", len(scenario.Grasp.Storyboard))
	}
	if scenario.Scene.Friction.Rolling != 0.0001 {
		t.Errorf("Expected rolling friction 0.0001, got %v", scenario.Scene.Friction.Rolling)
	}
	if scenario.DataGen.Camera.Width != 640 || scenario.DataGen.Camera.Height != 480 {
		t.Errorf("Expected 640x480 capture, got %dx%d", scenario.DataGen.Camera.Width, scenario.DataGen.Camera.Height)
	}
	if math.Abs(scenario.DataGen.LabelAngles[0]-math.Pi/2) > 1e-12 {
		t.Errorf("Expected first label angle pi/2, got %v", scenario.DataGen.LabelAngles[0])
	}
}

func TestScenarioLookups(t *testing.T) {
	scenario, err := LoadScenario("")
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}

	table, found := scenario.AssetByName("table")
	if !found {
		t.Fatalf("Expected to find table asset")
	}
	if !table.FixedBase {
		t.Errorf("Expected table to be fixed base")
	}

	left, found := scenario.RobotByName("left")
	if !found {
		t.Fatalf("Expected to find left robot")
	}
	if left.EndEffectorJoint != "tool_tip_joint" {
		t.Errorf("Expected tool_tip_joint, got %s", left.EndEffectorJoint)
	}

	if _, found := scenario.RobotByName("middle"); found {
		t.Errorf("Expected not to find robot middle")
	}
}

func TestParseScenarioRejectsDuplicateNames(t *testing.T) {
	content := `
scene:
  assets:
    - name: table
      file: table.urdf
  robots:
    - name: table
      file: ur5.urdf
`
	_, err := ParseScenario([]byte(content))
	if err == nil {
		t.Fatalf("Expected duplicate name error")
	}
	if !strings.Contains(err.Error(), `duplicate name "table"`) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestParseScenarioRejectsUnknownArm(t *testing.T) {
	content := `
scene:
  robots:
    - name: left
      file: ur5.urdf
grasp:
  arm: right
`
	_, err := ParseScenario([]byte(content))
	if err == nil || !strings.Contains(err.Error(), `grasp.arm "right"`) {
		t.Errorf("Expected unknown arm error, got %v", err)
	}
}

func TestLoadScenarioFromFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "scenario.yaml")
	content := `
version: "2.0"
scene:
  assets:
    - name: cup
      file: cup.urdf
      position: [0.8, 1.2, 0.7]
grasp:
  storyboard:
    - name: rest
      kind: wait
      settle: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write scenario: %v", err)
	}

	scenario, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	if scenario.Version != "2.0" {
		t.Errorf("Expected version 2.0, got %s", scenario.Version)
	}
	if got := scenario.Grasp.Storyboard[0].Settle; got != 0.5 {
		t.Errorf("Expected settle 0.5, got %v", got)
	}

	if _, err := LoadScenario(filepath.Join(tempDir, "missing.yaml")); err == nil {
		t.Errorf("Expected error for missing scenario file")
	}
}

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContent := `
logging:
  level: "debug"
  log_path: "/var/log/simcontroller"
server:
  http_port: 9090
engine:
  backend: "bridge"
  bridge:
    request_address: "tcp://localhost:6000"
zeromq:
  progress_bind_address: "tcp://*:7777"
data:
  asset_directory: "/srv/assets"
  output_directory: "/data/out"
  manifest: true
processing:
  event_workers: 2
`
	configPath := filepath.Join(tempDir, BootstrapFileName)
	if err := os.WriteFile(configPath, []byte(bootstrapContent), 0644); err != nil {
		t.Fatalf("Failed to write test bootstrap config: %v", err)
	}

	bootstrapCfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if bootstrapCfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug', got '%s'", bootstrapCfg.Logging.Level)
	}
	if bootstrapCfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected server http_port 9090, got %d", bootstrapCfg.Server.HTTPPort)
	}
	if bootstrapCfg.Engine.Backend != BackendBridge {
		t.Errorf("Expected bridge backend, got %s", bootstrapCfg.Engine.Backend)
	}
	if bootstrapCfg.Engine.Bridge.TimeoutMs != 10000 {
		t.Errorf("Expected default bridge timeout 10000, got %d", bootstrapCfg.Engine.Bridge.TimeoutMs)
	}
	if bootstrapCfg.Engine.Kinesim.UpperArm != 0.612 {
		t.Errorf("Expected default upper arm 0.612, got %v", bootstrapCfg.Engine.Kinesim.UpperArm)
	}
	if bootstrapCfg.ZeroMQ.MessageBufferSize != 1000 {
		t.Errorf("Expected default message_buffer_size 1000, got %d", bootstrapCfg.ZeroMQ.MessageBufferSize)
	}
	if bootstrapCfg.Processing.EventWorkers != 2 {
		t.Errorf("Expected event_workers 2, got %d", bootstrapCfg.Processing.EventWorkers)
	}
	if bootstrapCfg.Processing.EventQueueSize != 256 {
		t.Errorf("Expected default event_queue_size 256, got %d", bootstrapCfg.Processing.EventQueueSize)
	}
	if !bootstrapCfg.Data.Manifest {
		t.Errorf("Expected manifest enabled")
	}
}

func TestLoadBootstrapConfigMissingRequired(t *testing.T) {
	cases := map[string]struct {
		content string
		want    string
	}{
		"no backend": {
			content: "data:\n  output_directory: out\n",
			want:    "missing required field in bootstrap config: engine.backend",
		},
		"bridge without address": {
			content: "engine:\n  backend: bridge\ndata:\n  output_directory: out\n",
			want:    "missing required field in bootstrap config: engine.bridge.request_address",
		},
		"no output directory": {
			content: "engine:\n  backend: kinesim\n",
			want:    "missing required field in bootstrap config: data.output_directory",
		},
		"unknown backend": {
			content: "engine:\n  backend: bullet\ndata:\n  output_directory: out\n",
			want:    `invalid engine.backend "bullet"`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tempDir := t.TempDir()
			configPath := filepath.Join(tempDir, BootstrapFileName)
			if err := os.WriteFile(configPath, []byte(tc.content), 0644); err != nil {
				t.Fatalf("Failed to write test bootstrap config: %v", err)
			}

			_, err := LoadBootstrapConfig(tempDir)
			if err == nil {
				t.Fatalf("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error message to contain '%s', but got: %v", tc.want, err)
			}
		})
	}
}
