package bridge

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

var _ engine.Engine = (*Engine)(nil)

// Engine implements engine.Engine on top of a bridge Client.
type Engine struct {
	client *Client
}

// NewEngine wraps an open client.
func NewEngine(client *Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) LoadURDF(ctx context.Context, asset engine.Asset) (engine.BodyID, error) {
	var reply bodyReply
	err := e.client.Call(ctx, MethodLoadURDF, loadURDFArgs{
		Name:      asset.Name,
		File:      asset.File,
		Pose:      toWirePose(asset.Pose),
		FixedBase: asset.FixedBase,
	}, &reply)
	if err != nil {
		return -1, err
	}
	return reply.Body, nil
}

func (e *Engine) LoadRobot(ctx context.Context, spec engine.RobotSpec) (engine.Robot, error) {
	var reply loadRobotReply
	err := e.client.Call(ctx, MethodLoadRobot, loadRobotArgs{
		Name:          spec.Name,
		File:          spec.File,
		Base:          toWirePose(spec.Base),
		InitialJoints: spec.InitialJoints,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.DOF <= 0 {
		return nil, fmt.Errorf("bridge reported %d arm joints for robot %s", reply.DOF, spec.Name)
	}
	return &Robot{client: e.client, id: reply.Body, name: spec.Name, dof: reply.DOF}, nil
}

func (e *Engine) NumJoints(ctx context.Context, body engine.BodyID) (int, error) {
	var reply countReply
	if err := e.client.Call(ctx, MethodNumJoints, bodyArgs{Body: body}, &reply); err != nil {
		return 0, err
	}
	return reply.Count, nil
}

func (e *Engine) ChangeDynamics(ctx context.Context, body engine.BodyID, link int, d engine.Dynamics) error {
	return e.client.Call(ctx, MethodChangeDynamics, dynamicsArgs{Body: body, Link: link, Dynamics: d}, nil)
}

func (e *Engine) CreateSphere(ctx context.Context, s engine.Sphere) (engine.BodyID, error) {
	var reply bodyReply
	err := e.client.Call(ctx, MethodCreateSphere, sphereArgs{
		Radius:   s.Radius,
		Mass:     s.Mass,
		Color:    s.Color,
		Position: toArray(s.Position),
	}, &reply)
	if err != nil {
		return -1, err
	}
	return reply.Body, nil
}

func (e *Engine) ResetBasePose(ctx context.Context, body engine.BodyID, pose geom.Pose) error {
	return e.client.Call(ctx, MethodResetBasePose, poseArgs{Body: body, Pose: toWirePose(pose)}, nil)
}

func (e *Engine) BasePose(ctx context.Context, body engine.BodyID) (geom.Pose, error) {
	var reply poseReply
	if err := e.client.Call(ctx, MethodBasePose, bodyArgs{Body: body}, &reply); err != nil {
		return geom.Pose{}, err
	}
	return reply.Pose.pose(), nil
}

func (e *Engine) ConfigureLight(ctx context.Context, position r3.Vector) error {
	return e.client.Call(ctx, MethodConfigureLight, lightArgs{Position: toArray(position)}, nil)
}

func (e *Engine) ResetDebugCamera(ctx context.Context, cam engine.DebugCamera) error {
	return e.client.Call(ctx, MethodResetDebugCamera, debugCameraArgs{
		Distance: cam.Distance,
		Yaw:      cam.Yaw,
		Pitch:    cam.Pitch,
		Target:   toArray(cam.Target),
	}, nil)
}

func (e *Engine) CaptureImage(ctx context.Context, cam engine.Camera) (*engine.Frame, error) {
	var reply frameReply
	err := e.client.Call(ctx, MethodCaptureImage, cameraArgs{
		Width:  cam.Width,
		Height: cam.Height,
		FOV:    cam.FOV,
		Near:   cam.Near,
		Far:    cam.Far,
		Eye:    toArray(cam.Eye),
		Target: toArray(cam.Target),
		Up:     toArray(cam.Up),
	}, &reply)
	if err != nil {
		return nil, err
	}
	n := reply.Width * reply.Height
	if reply.Width != cam.Width || reply.Height != cam.Height {
		return nil, fmt.Errorf("bridge returned a %dx%d frame for a %dx%d request", reply.Width, reply.Height, cam.Width, cam.Height)
	}
	if len(reply.RGBA) != 4*n || len(reply.Depth) != n || len(reply.Seg) != n {
		return nil, fmt.Errorf("bridge returned inconsistent buffers for a %dx%d frame", reply.Width, reply.Height)
	}
	rgb := image.NewRGBA(image.Rect(0, 0, reply.Width, reply.Height))
	copy(rgb.Pix, reply.RGBA)
	return &engine.Frame{
		Width:  reply.Width,
		Height: reply.Height,
		RGB:    rgb,
		Depth:  reply.Depth,
		Seg:    reply.Seg,
	}, nil
}

// Step asks the simulator to run for d. The reply only arrives once it is
// done, so the call timeout is extended by d.
func (e *Engine) Step(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("negative step duration %v", d)
	}
	return e.client.call(ctx, MethodStep, stepArgs{Seconds: d.Seconds()}, nil, e.client.timeout+d)
}

func (e *Engine) Close() error {
	return e.client.Close()
}
