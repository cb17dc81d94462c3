package scene

import (
	"context"
	"fmt"

	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// AssetLoadError names the asset the engine could not load.
type AssetLoadError struct {
	Name string
	File string
	Err  error
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("failed to load asset %q from %s: %v", e.Name, e.File, e.Err)
}

func (e *AssetLoadError) Unwrap() error { return e.Err }

// Scene is the handle set produced by Build. Handles stay valid until the
// engine is closed.
type Scene struct {
	Assets map[string]engine.BodyID
	Robots map[string]engine.Robot
	// EndEffectors maps each robot to the link index used for kinematics.
	EndEffectors map[string]int
}

// Robot returns the named arm and its end-effector link.
func (s *Scene) Robot(name string) (engine.Robot, int, error) {
	r, ok := s.Robots[name]
	if !ok {
		return nil, 0, fmt.Errorf("scene has no robot %q", name)
	}
	return r, s.EndEffectors[name], nil
}

// Builder populates the engine with the static scene.
type Builder struct {
	engine engine.Engine
	logger customlog.Logger
}

// NewBuilder creates a scene builder
func NewBuilder(eng engine.Engine, logger customlog.Logger) *Builder {
	return &Builder{
		engine: eng,
		logger: logger.WithField("component", "scene"),
	}
}

// Build loads every asset and robot exactly once, applies friction to the
// configured arm, places the light and resets the debug camera.
// Descriptors are validated before the first engine call.
func (b *Builder) Build(ctx context.Context, cfg config.SceneConfig) (*Scene, error) {
	if err := ValidateScene(cfg); err != nil {
		return nil, err
	}

	scene := &Scene{
		Assets:       make(map[string]engine.BodyID, len(cfg.Assets)),
		Robots:       make(map[string]engine.Robot, len(cfg.Robots)),
		EndEffectors: make(map[string]int, len(cfg.Robots)),
	}

	for _, a := range cfg.Assets {
		id, err := b.engine.LoadURDF(ctx, engine.Asset{
			Name:      a.Name,
			File:      a.File,
			Pose:      geom.NewPose(geom.Vec(a.Position), geom.Vec(a.Euler)),
			FixedBase: a.FixedBase,
		})
		if err != nil {
			return nil, &AssetLoadError{Name: a.Name, File: a.File, Err: err}
		}
		scene.Assets[a.Name] = id
		b.logger.Debugf("Loaded %s (%s) as body %d", a.Name, a.File, id)
	}

	for _, r := range cfg.Robots {
		robot, err := b.engine.LoadRobot(ctx, engine.RobotSpec{
			Name:          r.Name,
			File:          r.File,
			Base:          geom.NewPose(geom.Vec(r.Position), geom.Vec(r.Euler)),
			InitialJoints: engine.JointConfig(r.InitialJoints),
		})
		if err != nil {
			return nil, &AssetLoadError{Name: r.Name, File: r.File, Err: err}
		}
		link := robot.DOF() - 1
		if r.EndEffectorJoint != "" {
			link, err = robot.JointIndex(ctx, r.EndEffectorJoint)
			if err != nil {
				return nil, &AssetLoadError{Name: r.Name, File: r.File, Err: err}
			}
		}
		scene.Robots[r.Name] = robot
		scene.EndEffectors[r.Name] = link
		b.logger.Infof("Loaded robot %s as body %d (%d DOF, end effector link %d)", r.Name, robot.ID(), robot.DOF(), link)
	}

	if f := cfg.Friction; f.Robot != "" {
		if err := b.applyFriction(ctx, scene.Robots[f.Robot], f); err != nil {
			return nil, err
		}
	}

	if len(cfg.LightPosition) > 0 {
		if err := b.engine.ConfigureLight(ctx, geom.Vec(cfg.LightPosition)); err != nil {
			return nil, fmt.Errorf("failed to place light: %w", err)
		}
	}

	cam := cfg.DebugCamera
	err := b.engine.ResetDebugCamera(ctx, engine.DebugCamera{
		Distance: cam.Distance,
		Yaw:      cam.Yaw,
		Pitch:    cam.Pitch,
		Target:   geom.Vec(cam.Target),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset debug camera: %w", err)
	}

	b.logger.Infof("Scene ready: %d assets, %d robots", len(scene.Assets), len(scene.Robots))
	return scene, nil
}

func (b *Builder) applyFriction(ctx context.Context, robot engine.Robot, f config.FrictionConfig) error {
	n, err := b.engine.NumJoints(ctx, robot.ID())
	if err != nil {
		return fmt.Errorf("failed to count joints of %s: %w", f.Robot, err)
	}
	d := engine.Dynamics{
		LateralFriction:  f.Lateral,
		SpinningFriction: f.Spinning,
		RollingFriction:  f.Rolling,
		FrictionAnchor:   f.Anchor,
	}
	for j := 0; j < n; j++ {
		if err := b.engine.ChangeDynamics(ctx, robot.ID(), j, d); err != nil {
			return fmt.Errorf("failed to set friction on %s joint %d: %w", f.Robot, j, err)
		}
	}
	b.logger.Debugf("Applied friction to %d joints of %s", n, f.Robot)
	return nil
}

// ValidateScene checks descriptors without touching the engine.
func ValidateScene(cfg config.SceneConfig) error {
	seen := make(map[string]bool)
	check := func(kind string, i int, name, file string, position, euler []float64) error {
		if name == "" {
			return fmt.Errorf("scene %s[%d]: missing name", kind, i)
		}
		if file == "" {
			return fmt.Errorf("scene %s %q: missing file", kind, name)
		}
		if seen[name] {
			return fmt.Errorf("scene %s %q: duplicate name", kind, name)
		}
		seen[name] = true
		if len(position) != 3 {
			return fmt.Errorf("scene %s %q: position needs 3 values, got %d", kind, name, len(position))
		}
		if len(euler) != 0 && len(euler) != 3 {
			return fmt.Errorf("scene %s %q: euler needs 3 values, got %d", kind, name, len(euler))
		}
		return nil
	}
	for i, a := range cfg.Assets {
		if err := check("asset", i, a.Name, a.File, a.Position, a.Euler); err != nil {
			return err
		}
	}
	for i, r := range cfg.Robots {
		if err := check("robot", i, r.Name, r.File, r.Position, r.Euler); err != nil {
			return err
		}
	}
	if f := cfg.Friction.Robot; f != "" {
		found := false
		for _, r := range cfg.Robots {
			found = found || r.Name == f
		}
		if !found {
			return fmt.Errorf("scene friction: unknown robot %q", f)
		}
	}
	return nil
}
