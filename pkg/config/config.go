package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed scenario_default.yaml
var defaultScenario []byte

// Scenario is the storyboard of one simulation session: the static scene, the
// grasp-and-pour sequence and the data-generation bounds.
type Scenario struct {
	Version string        `yaml:"version" json:"version"`
	Scene   SceneConfig   `yaml:"scene" json:"scene"`
	Grasp   GraspConfig   `yaml:"grasp" json:"grasp"`
	DataGen DataGenConfig `yaml:"datagen" json:"datagen"`
}

// SceneConfig lists everything loaded once at process start
type SceneConfig struct {
	LightPosition []float64         `yaml:"light_position" json:"light_position"`
	DebugCamera   DebugCameraConfig `yaml:"debug_camera" json:"debug_camera"`
	Assets        []AssetConfig     `yaml:"assets" json:"assets"`
	Robots        []RobotConfig     `yaml:"robots" json:"robots"`
	Friction      FrictionConfig    `yaml:"friction" json:"friction"`
}

// DebugCameraConfig positions the viewer camera of a GUI backend
type DebugCameraConfig struct {
	Distance float64   `yaml:"distance" json:"distance"`
	Yaw      float64   `yaml:"yaw" json:"yaw"`
	Pitch    float64   `yaml:"pitch" json:"pitch"`
	Target   []float64 `yaml:"target" json:"target"`
}

// AssetConfig describes one URDF body and where to put it
type AssetConfig struct {
	Name      string    `yaml:"name" json:"name"`
	File      string    `yaml:"file" json:"file"`
	Position  []float64 `yaml:"position" json:"position"`
	Euler     []float64 `yaml:"euler" json:"euler"`
	FixedBase bool      `yaml:"fixed_base" json:"fixed_base"`
}

// RobotConfig describes one arm with its mounting pose and rest configuration
type RobotConfig struct {
	Name             string    `yaml:"name" json:"name"`
	File             string    `yaml:"file" json:"file"`
	Position         []float64 `yaml:"position" json:"position"`
	Euler            []float64 `yaml:"euler" json:"euler"`
	InitialJoints    []float64 `yaml:"initial_joints" json:"initial_joints"`
	EndEffectorJoint string    `yaml:"end_effector_joint" json:"end_effector_joint"`
}

// FrictionConfig is applied to every joint of one robot
type FrictionConfig struct {
	Robot    string  `yaml:"robot" json:"robot"`
	Lateral  float64 `yaml:"lateral" json:"lateral"`
	Spinning float64 `yaml:"spinning" json:"spinning"`
	Rolling  float64 `yaml:"rolling" json:"rolling"`
	Anchor   bool    `yaml:"anchor" json:"anchor"`
}

// GraspConfig is the manipulation storyboard for one arm
type GraspConfig struct {
	Arm        string       `yaml:"arm" json:"arm"`
	Storyboard []StepConfig `yaml:"storyboard" json:"storyboard"`
	Pour       PourConfig   `yaml:"pour" json:"pour"`
}

// StepConfig is one row of the storyboard table. Which fields matter depends on Kind.
type StepConfig struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`

	// spawn
	File      string `yaml:"file,omitempty" json:"file,omitempty"`
	FixedBase bool   `yaml:"fixed_base,omitempty" json:"fixed_base,omitempty"`

	// spawn and move
	Position    []float64 `yaml:"position,omitempty" json:"position,omitempty"`
	Euler       []float64 `yaml:"euler,omitempty" json:"euler,omitempty"`
	PlacementXY bool      `yaml:"placement_xy,omitempty" json:"placement_xy,omitempty"`

	// offset
	Axis  string  `yaml:"axis,omitempty" json:"axis,omitempty"`
	Delta float64 `yaml:"delta,omitempty" json:"delta,omitempty"`

	// gripper
	Action string `yaml:"action,omitempty" json:"action,omitempty"`
	Attach string `yaml:"attach,omitempty" json:"attach,omitempty"`
	Detach bool   `yaml:"detach,omitempty" json:"detach,omitempty"`

	// pour
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Settle is the blocking wait after the step, in seconds.
	Settle float64 `yaml:"settle,omitempty" json:"settle,omitempty"`
}

// PourConfig shapes the particles emitted by a pour step
type PourConfig struct {
	Radius     float64   `yaml:"radius" json:"radius"`
	Mass       float64   `yaml:"mass" json:"mass"`
	Color      []float64 `yaml:"color" json:"color"`
	Offset     []float64 `yaml:"offset" json:"offset"`
	Jitter     []float64 `yaml:"jitter" json:"jitter"`
	IntervalMs int       `yaml:"interval_ms" json:"interval_ms"`
}

// DataGenConfig holds the object, camera and sampling bounds for data generation
type DataGenConfig struct {
	Object      AssetConfig  `yaml:"object" json:"object"`
	ObjectZ     float64      `yaml:"object_z" json:"object_z"`
	ObjectEuler []float64    `yaml:"object_euler" json:"object_euler"`
	LabelAngles []float64    `yaml:"label_angles" json:"label_angles"`
	Settle      float64      `yaml:"settle" json:"settle"`
	Camera      CameraConfig `yaml:"camera" json:"camera"`
	Bounds      BoundsConfig `yaml:"bounds" json:"bounds"`
}

// CameraConfig is the capture camera intrinsics
type CameraConfig struct {
	Width  int       `yaml:"width" json:"width"`
	Height int       `yaml:"height" json:"height"`
	FOV    float64   `yaml:"fov" json:"fov"`
	Near   float64   `yaml:"near" json:"near"`
	Far    float64   `yaml:"far" json:"far"`
	Up     []float64 `yaml:"up" json:"up"`
}

// BoundsConfig holds the per-sample randomization boxes
type BoundsConfig struct {
	Light  RangeConfig `yaml:"light" json:"light"`
	Eye    RangeConfig `yaml:"eye" json:"eye"`
	Target RangeConfig `yaml:"target" json:"target"`
	Object RangeConfig `yaml:"object" json:"object"`
}

// RangeConfig is an axis-aligned box. Object bounds only use x and y.
type RangeConfig struct {
	Min []float64 `yaml:"min" json:"min"`
	Max []float64 `yaml:"max" json:"max"`
}

// DefaultScenarioYAML returns the embedded default scenario.
func DefaultScenarioYAML() []byte {
	out := make([]byte, len(defaultScenario))
	copy(out, defaultScenario)
	return out
}

// LoadScenario reads a scenario from path. An empty path loads the embedded default.
func LoadScenario(path string) (*Scenario, error) {
	data := defaultScenario
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading scenario file: %w", err)
		}
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("error parsing scenario: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks the structural rules every consumer relies on.
// Step-kind specific checks happen when the storyboard is resolved.
func (s *Scenario) Validate() error {
	seen := make(map[string]bool)
	for i, a := range s.Scene.Assets {
		if a.Name == "" || a.File == "" {
			return fmt.Errorf("scene.assets[%d]: name and file are required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("scene.assets[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	for i, r := range s.Scene.Robots {
		if r.Name == "" || r.File == "" {
			return fmt.Errorf("scene.robots[%d]: name and file are required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("scene.robots[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
	}
	if s.Scene.Friction.Robot != "" {
		if _, ok := s.RobotByName(s.Scene.Friction.Robot); !ok {
			return fmt.Errorf("scene.friction.robot %q is not a configured robot", s.Scene.Friction.Robot)
		}
	}
	if s.Grasp.Arm != "" {
		if _, ok := s.RobotByName(s.Grasp.Arm); !ok {
			return fmt.Errorf("grasp.arm %q is not a configured robot", s.Grasp.Arm)
		}
	}
	for i, step := range s.Grasp.Storyboard {
		if step.Kind == "" {
			return fmt.Errorf("grasp.storyboard[%d]: kind is required", i)
		}
		if step.Settle < 0 {
			return fmt.Errorf("grasp.storyboard[%d]: settle must not be negative", i)
		}
	}
	return nil
}

// AssetByName returns the scene asset with the given name
func (s *Scenario) AssetByName(name string) (AssetConfig, bool) {
	for _, a := range s.Scene.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// RobotByName returns the robot with the given name
func (s *Scenario) RobotByName(name string) (RobotConfig, bool) {
	for _, r := range s.Scene.Robots {
		if r.Name == name {
			return r, true
		}
	}
	return RobotConfig{}, false
}
