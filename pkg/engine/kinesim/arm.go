package kinesim

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

// ArmDOF is the number of arm joints of every kinesim robot:
// base yaw, shoulder, elbow and three wrist angles.
const ArmDOF = 6

// reachTolerance absorbs rounding at the edge of the workspace.
const reachTolerance = 1e-9

// GripperState is the commanded state of the fingers.
type GripperState string

const (
	GripperOpen   GripperState = "open"
	GripperClosed GripperState = "closed"
)

var _ engine.Robot = (*Arm)(nil)

// Arm is an idealized 6-DOF arm. The first three joints place the wrist
// with a two-link planar chain rotated about the base Z axis; the last three
// are the roll/pitch/yaw of the tool in the base frame.
type Arm struct {
	sim   *Sim
	id    engine.BodyID
	name  string
	base  geom.Pose
	upper float64
	fore  float64

	// guarded by sim.mu
	joints       engine.JointConfig
	jointNames   []string
	gripper      GripperState
	attached     engine.BodyID
	attachOffset geom.Pose
}

func (a *Arm) ID() engine.BodyID { return a.id }
func (a *Arm) Name() string      { return a.name }
func (a *Arm) DOF() int          { return ArmDOF }

// JointIndex finds a joint by its URDF name.
func (a *Arm) JointIndex(ctx context.Context, name string) (int, error) {
	for i, n := range a.jointNames {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("robot %s has no joint %q", a.name, name)
}

func (a *Arm) checkLink(link int) error {
	if link < 0 || link >= len(a.jointNames) {
		return fmt.Errorf("robot %s has no link %d", a.name, link)
	}
	return nil
}

// InverseKinematics solves for the joint angles that put the tool at target.
// Targets outside the annulus [|upper-fore|, upper+fore] around the shoulder
// return engine.ErrUnreachable.
func (a *Arm) InverseKinematics(ctx context.Context, link int, target geom.Pose) (engine.JointConfig, error) {
	if err := a.checkLink(link); err != nil {
		return nil, err
	}
	local := geom.Relative(a.base, target)
	p := local.Point

	r := math.Hypot(p.X, p.Y)
	d2 := r*r + p.Z*p.Z
	cosElbow := (d2 - a.upper*a.upper - a.fore*a.fore) / (2 * a.upper * a.fore)
	if cosElbow > 1+reachTolerance || cosElbow < -1-reachTolerance {
		return nil, fmt.Errorf("%w: %s is %.3fm from the shoulder of %s (reach %.3f..%.3f)",
			engine.ErrUnreachable, target, math.Sqrt(d2), a.name,
			math.Abs(a.upper-a.fore), a.upper+a.fore)
	}
	cosElbow = math.Max(-1, math.Min(1, cosElbow))

	elbow := math.Acos(cosElbow)
	shoulder := math.Atan2(p.Z, r) - math.Atan2(a.fore*math.Sin(elbow), a.upper+a.fore*math.Cos(elbow))
	yaw := math.Atan2(p.Y, p.X)
	wrist := geom.ToEuler(local.Orientation)

	return engine.JointConfig{yaw, shoulder, elbow, wrist.X, wrist.Y, wrist.Z}, nil
}

// forward is the exact inverse of InverseKinematics.
func (a *Arm) forward(q engine.JointConfig) geom.Pose {
	r := a.upper*math.Cos(q[1]) + a.fore*math.Cos(q[1]+q[2])
	z := a.upper*math.Sin(q[1]) + a.fore*math.Sin(q[1]+q[2])
	local := geom.Pose{
		Point:       r3.Vector{X: r * math.Cos(q[0]), Y: r * math.Sin(q[0]), Z: z},
		Orientation: geom.FromEuler(q[3], q[4], q[5]),
	}
	return geom.Compose(a.base, local)
}

// EndEffectorPose returns the tool pose for the current joint state.
func (a *Arm) EndEffectorPose(ctx context.Context, link int) (geom.Pose, error) {
	if err := a.checkLink(link); err != nil {
		return geom.Pose{}, err
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if a.sim.closed {
		return geom.Pose{}, engine.ErrClosed
	}
	return a.forward(a.joints), nil
}

// Joints returns a copy of the current joint state.
func (a *Arm) Joints() engine.JointConfig {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	out := make(engine.JointConfig, len(a.joints))
	copy(out, a.joints)
	return out
}

// ControlArmJoints moves the arm and carries any attached body along.
func (a *Arm) ControlArmJoints(ctx context.Context, joints engine.JointConfig) error {
	if len(joints) != ArmDOF {
		return fmt.Errorf("robot %s: got %d joint targets, want %d", a.name, len(joints), ArmDOF)
	}
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if a.sim.closed {
		return engine.ErrClosed
	}
	copy(a.joints, joints)
	if a.attached >= 0 {
		if b, ok := a.sim.bodies[a.attached]; ok {
			b.pose = geom.Compose(a.forward(a.joints), a.attachOffset)
		}
	}
	return nil
}

func (a *Arm) setGripper(state GripperState) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if a.sim.closed {
		return engine.ErrClosed
	}
	a.gripper = state
	return nil
}

func (a *Arm) OpenGripper(ctx context.Context) error  { return a.setGripper(GripperOpen) }
func (a *Arm) CloseGripper(ctx context.Context) error { return a.setGripper(GripperClosed) }

// Gripper returns the commanded finger state.
func (a *Arm) Gripper() GripperState {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.gripper
}

// Attach binds body to the tool at its current relative pose.
func (a *Arm) Attach(ctx context.Context, id engine.BodyID) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	b, err := a.sim.bodyLocked(id)
	if err != nil {
		return err
	}
	if id == a.id {
		return fmt.Errorf("robot %s cannot attach to itself", a.name)
	}
	if b.fixed {
		return fmt.Errorf("robot %s cannot attach fixed body %d", a.name, id)
	}
	a.attached = id
	a.attachOffset = geom.Relative(a.forward(a.joints), b.pose)
	return nil
}

// Detach releases the attached body where it is. Detaching with nothing
// attached is a no-op.
func (a *Arm) Detach(ctx context.Context) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if a.sim.closed {
		return engine.ErrClosed
	}
	a.attached = -1
	a.attachOffset = geom.Pose{}
	return nil
}

// Attached returns the attached body, or -1.
func (a *Arm) Attached() engine.BodyID {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.attached
}
