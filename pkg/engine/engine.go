// Package engine defines the port between the controller and the physics
// simulator. Everything behind it (dynamics, collision, rendering, URDF
// instantiation, the robot kinematics solver) is treated as a black box.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/geom"
)

var (
	// ErrAssetNotFound is returned when an asset file cannot be resolved.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrUnreachable is returned when the kinematics solver finds no joint
	// configuration for a target.
	ErrUnreachable = errors.New("kinematic target unreachable")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("engine connection closed")
	// ErrUnknownBody is returned for handles the engine does not know.
	ErrUnknownBody = errors.New("unknown body")
)

// BodyID is the opaque handle the engine returns for a loaded body.
// It stays valid until the connection is closed.
type BodyID int

// JointConfig is an ordered list of joint angles in radians.
type JointConfig []float64

// Asset is one URDF body to load.
type Asset struct {
	Name      string
	File      string
	Pose      geom.Pose
	FixedBase bool
}

// RobotSpec describes an arm to instantiate.
type RobotSpec struct {
	Name          string
	File          string
	Base          geom.Pose
	InitialJoints JointConfig
}

// Dynamics are per-link contact parameters.
type Dynamics struct {
	LateralFriction  float64 `json:"lateral_friction"`
	SpinningFriction float64 `json:"spinning_friction"`
	RollingFriction  float64 `json:"rolling_friction"`
	FrictionAnchor   bool    `json:"friction_anchor"`
}

// Sphere is a free rigid sphere created without an asset file.
type Sphere struct {
	Radius   float64
	Mass     float64
	Color    [4]float64
	Position r3.Vector
}

// Camera is a pinhole capture request.
type Camera struct {
	Width  int
	Height int
	// FOV is the vertical field of view in degrees.
	FOV    float64
	Near   float64
	Far    float64
	Eye    r3.Vector
	Target r3.Vector
	Up     r3.Vector
}

// DebugCamera positions the viewer of a GUI backend.
type DebugCamera struct {
	Distance float64
	Yaw      float64
	Pitch    float64
	Target   r3.Vector
}

// Frame is one rendered capture. Depth and Seg are row-major, Width*Height long.
type Frame struct {
	Width  int
	Height int
	RGB    *image.RGBA
	Depth  []float32
	Seg    []int32
}

// Engine is the world-level simulator API.
type Engine interface {
	LoadURDF(ctx context.Context, asset Asset) (BodyID, error)
	LoadRobot(ctx context.Context, spec RobotSpec) (Robot, error)
	NumJoints(ctx context.Context, body BodyID) (int, error)
	ChangeDynamics(ctx context.Context, body BodyID, link int, d Dynamics) error
	CreateSphere(ctx context.Context, s Sphere) (BodyID, error)
	ResetBasePose(ctx context.Context, body BodyID, pose geom.Pose) error
	BasePose(ctx context.Context, body BodyID) (geom.Pose, error)
	ConfigureLight(ctx context.Context, position r3.Vector) error
	ResetDebugCamera(ctx context.Context, cam DebugCamera) error
	CaptureImage(ctx context.Context, cam Camera) (*Frame, error)
	// Step blocks while the simulation runs for d of wall-clock time.
	Step(ctx context.Context, d time.Duration) error
	// Close disconnects. It is safe to call more than once.
	Close() error
}

// Robot is an arm with a gripper, driven through the engine's kinematics solver.
type Robot interface {
	ID() BodyID
	Name() string
	// DOF is the number of arm joints controlled by ControlArmJoints.
	DOF() int
	JointIndex(ctx context.Context, name string) (int, error)
	InverseKinematics(ctx context.Context, link int, target geom.Pose) (JointConfig, error)
	EndEffectorPose(ctx context.Context, link int) (geom.Pose, error)
	ControlArmJoints(ctx context.Context, joints JointConfig) error
	OpenGripper(ctx context.Context) error
	CloseGripper(ctx context.Context) error
	Attach(ctx context.Context, body BodyID) error
	Detach(ctx context.Context) error
}

// ValidateSolution rejects solver output that cannot be commanded: fewer
// values than the arm has joints, or values that are not finite.
// The result is truncated to dof joints.
func ValidateSolution(joints JointConfig, dof int) (JointConfig, error) {
	if len(joints) < dof {
		return nil, fmt.Errorf("%w: solver returned %d joints, arm has %d", ErrUnreachable, len(joints), dof)
	}
	for i, v := range joints[:dof] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: joint %d is %v", ErrUnreachable, i, v)
		}
	}
	out := make(JointConfig, dof)
	copy(out, joints[:dof])
	return out, nil
}

// Seconds converts a storyboard duration in seconds to a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
