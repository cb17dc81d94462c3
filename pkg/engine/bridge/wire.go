package bridge

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

// Methods understood by the simulator bridge.
const (
	MethodLoadURDF         = "load_urdf"
	MethodLoadRobot        = "load_robot"
	MethodNumJoints        = "num_joints"
	MethodChangeDynamics   = "change_dynamics"
	MethodCreateSphere     = "create_sphere"
	MethodResetBasePose    = "reset_base_pose"
	MethodBasePose         = "base_pose"
	MethodConfigureLight   = "configure_light"
	MethodResetDebugCamera = "reset_debug_camera"
	MethodCaptureImage     = "capture_image"
	MethodStep             = "step"
	MethodDisconnect       = "disconnect"

	MethodJointIndex        = "joint_index"
	MethodInverseKinematics = "inverse_kinematics"
	MethodEndEffectorPose   = "end_effector_pose"
	MethodControlArmJoints  = "control_arm_joints"
	MethodGripper           = "gripper"
	MethodAttach            = "attach"
	MethodDetach            = "detach"
)

// WirePose is a position and an x,y,z,w quaternion.
type WirePose struct {
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
}

func toWirePose(p geom.Pose) WirePose {
	q := p.Orientation
	return WirePose{
		Position:    [3]float64{p.Point.X, p.Point.Y, p.Point.Z},
		Orientation: [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real},
	}
}

func (w WirePose) pose() geom.Pose {
	return geom.Pose{
		Point:       r3.Vector{X: w.Position[0], Y: w.Position[1], Z: w.Position[2]},
		Orientation: geom.Normalize(quat.Number{Real: w.Orientation[3], Imag: w.Orientation[0], Jmag: w.Orientation[1], Kmag: w.Orientation[2]}),
	}
}

func toArray(v r3.Vector) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

type bodyArgs struct {
	Body engine.BodyID `json:"body"`
}

type bodyReply struct {
	Body engine.BodyID `json:"body"`
}

type loadURDFArgs struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	Pose      WirePose `json:"pose"`
	FixedBase bool     `json:"fixed_base"`
}

type loadRobotArgs struct {
	Name          string    `json:"name"`
	File          string    `json:"file"`
	Base          WirePose  `json:"base"`
	InitialJoints []float64 `json:"initial_joints"`
}

type loadRobotReply struct {
	Body engine.BodyID `json:"body"`
	DOF  int           `json:"dof"`
}

type countReply struct {
	Count int `json:"count"`
}

type dynamicsArgs struct {
	Body engine.BodyID `json:"body"`
	Link int           `json:"link"`
	engine.Dynamics
}

type sphereArgs struct {
	Radius   float64    `json:"radius"`
	Mass     float64    `json:"mass"`
	Color    [4]float64 `json:"rgba"`
	Position [3]float64 `json:"position"`
}

type poseArgs struct {
	Body engine.BodyID `json:"body"`
	Pose WirePose      `json:"pose"`
}

type poseReply struct {
	Pose WirePose `json:"pose"`
}

type lightArgs struct {
	Position [3]float64 `json:"position"`
}

type debugCameraArgs struct {
	Distance float64    `json:"distance"`
	Yaw      float64    `json:"yaw"`
	Pitch    float64    `json:"pitch"`
	Target   [3]float64 `json:"target"`
}

type cameraArgs struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	FOV    float64    `json:"fov"`
	Near   float64    `json:"near"`
	Far    float64    `json:"far"`
	Eye    [3]float64 `json:"eye"`
	Target [3]float64 `json:"target"`
	Up     [3]float64 `json:"up"`
}

// frameReply carries RGBA pixels (base64 in JSON) plus row-major depth and segmentation.
type frameReply struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	RGBA   []byte    `json:"rgba"`
	Depth  []float32 `json:"depth"`
	Seg    []int32   `json:"seg"`
}

type stepArgs struct {
	Seconds float64 `json:"seconds"`
}

type jointNameArgs struct {
	Body engine.BodyID `json:"body"`
	Name string        `json:"name"`
}

type jointIndexReply struct {
	Index int `json:"index"`
}

type ikArgs struct {
	Body   engine.BodyID `json:"body"`
	Link   int           `json:"link"`
	Target WirePose      `json:"target"`
}

type jointsReply struct {
	Joints []float64 `json:"joints"`
}

type linkArgs struct {
	Body engine.BodyID `json:"body"`
	Link int           `json:"link"`
}

type jointsArgs struct {
	Body   engine.BodyID `json:"body"`
	Joints []float64     `json:"joints"`
}

type gripperArgs struct {
	Body  engine.BodyID `json:"body"`
	Close bool          `json:"close"`
}

type attachArgs struct {
	Body   engine.BodyID `json:"body"`
	Object engine.BodyID `json:"object"`
}
