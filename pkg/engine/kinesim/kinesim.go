// Package kinesim is an in-process, kinematics-only stand-in for the physics
// engine. It keeps body poses, attachments and arm joint states, solves an
// idealized 6-DOF arm in closed form and renders a pinhole splat of the free
// bodies. There are no dynamics: bodies stay where they are put.
package kinesim

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

var _ engine.Engine = (*Sim)(nil)

// BodyKind tells how a body was created.
type BodyKind string

const (
	KindURDF   BodyKind = "urdf"
	KindRobot  BodyKind = "robot"
	KindSphere BodyKind = "sphere"
)

// Options configures a Sim.
type Options struct {
	// Realtime makes Step block for the requested wall-clock duration.
	Realtime bool
	// UpperArm and Forearm are the two planar link lengths of every arm, in meters.
	UpperArm float64
	Forearm  float64
	// AssetDirectory is prepended to relative asset paths.
	AssetDirectory string
	Clock          clock.Clock
	Logger         customlog.Logger
}

// BodyInfo is a snapshot of one body, for inspection and tests.
type BodyInfo struct {
	ID     engine.BodyID
	Name   string
	Kind   BodyKind
	Pose   geom.Pose
	Fixed  bool
	Radius float64
}

type body struct {
	id       engine.BodyID
	name     string
	kind     BodyKind
	pose     geom.Pose
	fixed    bool
	radius   float64
	color    color.RGBA
	joints   []string
	dynamics map[int]engine.Dynamics
}

// Sim is the kinematic engine. Calls are serialized by an internal mutex.
type Sim struct {
	opts   Options
	clk    clock.Clock
	logger customlog.Logger

	mu       sync.Mutex
	bodies   map[engine.BodyID]*body
	robots   map[engine.BodyID]*Arm
	nextID   engine.BodyID
	light    r3.Vector
	debugCam engine.DebugCamera
	simTime  time.Duration
	closed   bool
}

// New creates an empty world.
func New(opts Options) *Sim {
	if opts.UpperArm <= 0 {
		opts.UpperArm = 0.612
	}
	if opts.Forearm <= 0 {
		opts.Forearm = 0.5723
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Sim{
		opts:   opts,
		clk:    clk,
		logger: logger,
		bodies: make(map[engine.BodyID]*body),
		robots: make(map[engine.BodyID]*Arm),
		light:  r3.Vector{Z: 5},
	}
}

func (s *Sim) resolve(file string) string {
	if filepath.IsAbs(file) || s.opts.AssetDirectory == "" {
		return file
	}
	return filepath.Join(s.opts.AssetDirectory, file)
}

// addLocked registers b and returns its new handle. Caller holds s.mu.
func (s *Sim) addLocked(b *body) engine.BodyID {
	b.id = s.nextID
	s.nextID++
	if b.dynamics == nil {
		b.dynamics = make(map[int]engine.Dynamics)
	}
	s.bodies[b.id] = b
	return b.id
}

// LoadURDF reads the URDF file and places the body at asset.Pose.
func (s *Sim) LoadURDF(ctx context.Context, asset engine.Asset) (engine.BodyID, error) {
	path := s.resolve(asset.File)
	m, err := loadModel(path)
	if err != nil {
		return -1, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1, engine.ErrClosed
	}
	name := asset.Name
	if name == "" {
		name = m.name
	}
	id := s.addLocked(&body{
		name:   name,
		kind:   KindURDF,
		pose:   asset.Pose,
		fixed:  asset.FixedBase,
		radius: m.radius,
		color:  m.color,
		joints: m.joints,
	})
	s.logger.Debugf("kinesim: loaded %s as body %d (%s)", path, id, asset.Pose)
	return id, nil
}

// LoadRobot instantiates an arm on a fixed base.
func (s *Sim) LoadRobot(ctx context.Context, spec engine.RobotSpec) (engine.Robot, error) {
	path := s.resolve(spec.File)
	m, err := loadModel(path)
	if err != nil {
		return nil, err
	}
	joints := make(engine.JointConfig, ArmDOF)
	if len(spec.InitialJoints) > 0 {
		if len(spec.InitialJoints) != ArmDOF {
			return nil, fmt.Errorf("robot %s: %d initial joints, want %d", spec.Name, len(spec.InitialJoints), ArmDOF)
		}
		copy(joints, spec.InitialJoints)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, engine.ErrClosed
	}
	id := s.addLocked(&body{
		name:   spec.Name,
		kind:   KindRobot,
		pose:   spec.Base,
		fixed:  true,
		radius: m.radius,
		color:  m.color,
		joints: m.joints,
	})
	arm := &Arm{
		sim:        s,
		id:         id,
		name:       spec.Name,
		base:       spec.Base,
		upper:      s.opts.UpperArm,
		fore:       s.opts.Forearm,
		joints:     joints,
		jointNames: m.joints,
		attached:   -1,
		gripper:    GripperOpen,
	}
	s.robots[id] = arm
	s.logger.Debugf("kinesim: loaded robot %s as body %d", spec.Name, id)
	return arm, nil
}

func (s *Sim) bodyLocked(id engine.BodyID) (*body, error) {
	if s.closed {
		return nil, engine.ErrClosed
	}
	b, ok := s.bodies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", engine.ErrUnknownBody, id)
	}
	return b, nil
}

// NumJoints returns the joint count read from the body's URDF.
func (s *Sim) NumJoints(ctx context.Context, id engine.BodyID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bodyLocked(id)
	if err != nil {
		return 0, err
	}
	return len(b.joints), nil
}

// ChangeDynamics stores contact parameters for a link. Link -1 is the base.
func (s *Sim) ChangeDynamics(ctx context.Context, id engine.BodyID, link int, d engine.Dynamics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bodyLocked(id)
	if err != nil {
		return err
	}
	if link < -1 || link >= len(b.joints) {
		return fmt.Errorf("body %d has no link %d", id, link)
	}
	b.dynamics[link] = d
	return nil
}

// Dynamics returns the parameters set for a link, if any.
func (s *Sim) Dynamics(id engine.BodyID, link int) (engine.Dynamics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bodies[id]
	if !ok {
		return engine.Dynamics{}, false
	}
	d, ok := b.dynamics[link]
	return d, ok
}

// CreateSphere adds a free sphere.
func (s *Sim) CreateSphere(ctx context.Context, sp engine.Sphere) (engine.BodyID, error) {
	if sp.Radius <= 0 {
		return -1, fmt.Errorf("sphere radius must be positive, got %v", sp.Radius)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1, engine.ErrClosed
	}
	return s.addLocked(&body{
		name:   "sphere",
		kind:   KindSphere,
		pose:   geom.Pose{Point: sp.Position, Orientation: geom.Identity},
		radius: sp.Radius,
		color: color.RGBA{
			R: channel(sp.Color[0]), G: channel(sp.Color[1]),
			B: channel(sp.Color[2]), A: channel(sp.Color[3]),
		},
	}), nil
}

// ResetBasePose teleports a body.
func (s *Sim) ResetBasePose(ctx context.Context, id engine.BodyID, pose geom.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bodyLocked(id)
	if err != nil {
		return err
	}
	b.pose = pose
	return nil
}

// BasePose returns the current pose of a body.
func (s *Sim) BasePose(ctx context.Context, id engine.BodyID) (geom.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bodyLocked(id)
	if err != nil {
		return geom.Pose{}, err
	}
	return b.pose, nil
}

// ConfigureLight moves the scene light.
func (s *Sim) ConfigureLight(ctx context.Context, position r3.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrClosed
	}
	s.light = position
	return nil
}

// Light returns the current light position.
func (s *Sim) Light() r3.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.light
}

// ResetDebugCamera records the viewer camera. There is no viewer.
func (s *Sim) ResetDebugCamera(ctx context.Context, cam engine.DebugCamera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.ErrClosed
	}
	s.debugCam = cam
	return nil
}

// Step advances simulated time by d. With Realtime set it also waits d on the clock.
func (s *Sim) Step(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative step duration %v", d)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return engine.ErrClosed
	}
	s.simTime += d
	s.mu.Unlock()

	if !s.opts.Realtime || d == 0 {
		return ctx.Err()
	}
	timer := s.clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SimTime is the total simulated time stepped so far.
func (s *Sim) SimTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simTime
}

// Bodies lists every body in creation order.
func (s *Sim) Bodies() []BodyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BodyInfo, 0, len(s.bodies))
	for _, b := range s.bodies {
		out = append(out, BodyInfo{ID: b.id, Name: b.name, Kind: b.kind, Pose: b.pose, Fixed: b.fixed, Radius: b.radius})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountKind returns how many bodies of kind exist.
func (s *Sim) CountKind(kind BodyKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bodies {
		if b.kind == kind {
			n++
		}
	}
	return n
}

// Close disconnects. Later calls return engine.ErrClosed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.logger.Debugf("kinesim: closed after %v simulated", s.simTime)
	}
	return nil
}
