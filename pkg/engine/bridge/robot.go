package bridge

import (
	"context"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

var _ engine.Robot = (*Robot)(nil)

// Robot is a remote arm addressed by its body id.
type Robot struct {
	client *Client
	id     engine.BodyID
	name   string
	dof    int
}

func (r *Robot) ID() engine.BodyID { return r.id }
func (r *Robot) Name() string      { return r.name }
func (r *Robot) DOF() int          { return r.dof }

func (r *Robot) JointIndex(ctx context.Context, name string) (int, error) {
	var reply jointIndexReply
	if err := r.client.Call(ctx, MethodJointIndex, jointNameArgs{Body: r.id, Name: name}, &reply); err != nil {
		return -1, err
	}
	return reply.Index, nil
}

func (r *Robot) InverseKinematics(ctx context.Context, link int, target geom.Pose) (engine.JointConfig, error) {
	var reply jointsReply
	err := r.client.Call(ctx, MethodInverseKinematics, ikArgs{Body: r.id, Link: link, Target: toWirePose(target)}, &reply)
	if err != nil {
		return nil, err
	}
	return engine.JointConfig(reply.Joints), nil
}

func (r *Robot) EndEffectorPose(ctx context.Context, link int) (geom.Pose, error) {
	var reply poseReply
	if err := r.client.Call(ctx, MethodEndEffectorPose, linkArgs{Body: r.id, Link: link}, &reply); err != nil {
		return geom.Pose{}, err
	}
	return reply.Pose.pose(), nil
}

func (r *Robot) ControlArmJoints(ctx context.Context, joints engine.JointConfig) error {
	return r.client.Call(ctx, MethodControlArmJoints, jointsArgs{Body: r.id, Joints: joints}, nil)
}

func (r *Robot) OpenGripper(ctx context.Context) error {
	return r.client.Call(ctx, MethodGripper, gripperArgs{Body: r.id, Close: false}, nil)
}

func (r *Robot) CloseGripper(ctx context.Context) error {
	return r.client.Call(ctx, MethodGripper, gripperArgs{Body: r.id, Close: true}, nil)
}

func (r *Robot) Attach(ctx context.Context, body engine.BodyID) error {
	return r.client.Call(ctx, MethodAttach, attachArgs{Body: r.id, Object: body}, nil)
}

func (r *Robot) Detach(ctx context.Context) error {
	return r.client.Call(ctx, MethodDetach, bodyArgs{Body: r.id}, nil)
}
