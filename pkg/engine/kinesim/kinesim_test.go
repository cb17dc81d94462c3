package kinesim

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

const armURDF = `<?xml version="1.0"?>
<robot name="ur5_robotiq">
  <link name="base_link"><visual><geometry><cylinder radius="0.075" length="0.1"/></geometry></visual></link>
  <link name="tool"/>
  <joint name="shoulder_pan_joint" type="revolute"/>
  <joint name="shoulder_lift_joint" type="revolute"/>
  <joint name="elbow_joint" type="revolute"/>
  <joint name="wrist_1_joint" type="revolute"/>
  <joint name="wrist_2_joint" type="revolute"/>
  <joint name="wrist_3_joint" type="revolute"/>
  <joint name="finger_joint" type="revolute"/>
  <joint name="tool_tip_joint" type="fixed"/>
</robot>`

const canURDF = `<?xml version="1.0"?>
<robot name="can">
  <link name="body">
    <visual>
      <geometry><cylinder radius="0.033" length="0.12"/></geometry>
      <material name="red"><color rgba="0.8 0.1 0.1 1"/></material>
    </visual>
  </link>
</robot>`

func writeAssets(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ur5_robotiq.urdf"), []byte(armURDF), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "can.urdf"), []byte(canURDF), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.urdf"), []byte("<robot"), 0644))
	return dir
}

var leftBase = geom.NewPose(r3.Vector{X: 0.025, Y: 0.94, Z: 1.42}, r3.Vector{X: math.Pi / 2, Y: -math.Pi / 2, Z: math.Pi / 2})

func newArm(t *testing.T, sim *Sim) *Arm {
	t.Helper()
	robot, err := sim.LoadRobot(context.Background(), engine.RobotSpec{
		Name:          "left",
		File:          "ur5_robotiq.urdf",
		Base:          leftBase,
		InitialJoints: engine.JointConfig{0, -math.Pi / 2, -math.Pi / 2, -math.Pi / 2, -math.Pi / 2, -math.Pi / 2},
	})
	require.NoError(t, err)
	return robot.(*Arm)
}

func TestLoadURDFMissingFile(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})

	_, err := sim.LoadURDF(context.Background(), engine.Asset{Name: "cup", File: "cup.urdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAssetNotFound)
	assert.Contains(t, err.Error(), "cup.urdf")
}

func TestLoadURDFMalformed(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})

	_, err := sim.LoadURDF(context.Background(), engine.Asset{Name: "broken", File: "broken.urdf"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrAssetNotFound)
	assert.Contains(t, err.Error(), "malformed URDF")
}

func TestLoadURDFReadsGeometry(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})
	ctx := context.Background()

	id, err := sim.LoadURDF(ctx, engine.Asset{Name: "can", File: "can.urdf", Pose: geom.NewPose(r3.Vector{X: 0.5}, r3.Vector{})})
	require.NoError(t, err)

	n, err := sim.NumJoints(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	bodies := sim.Bodies()
	require.Len(t, bodies, 1)
	assert.InDelta(t, 0.06, bodies[0].Radius, 1e-12)
	assert.Equal(t, KindURDF, bodies[0].Kind)
}

func TestArmInverseKinematicsRoundTrip(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})
	arm := newArm(t, sim)
	ctx := context.Background()

	link, err := arm.JointIndex(ctx, "tool_tip_joint")
	require.NoError(t, err)
	assert.Equal(t, 7, link)

	targets := []geom.Pose{
		geom.NewPose(r3.Vector{X: 0.6, Y: 0.7, Z: 0.8}, r3.Vector{X: math.Pi / 2}),
		geom.NewPose(r3.Vector{X: 0.8, Y: 1.2, Z: 0.8}, r3.Vector{X: -math.Pi / 2}),
		geom.NewPose(r3.Vector{X: 0.8, Y: 1.0, Z: 0.64}, r3.Vector{X: math.Pi / 2}),
	}
	for _, target := range targets {
		q, err := arm.InverseKinematics(ctx, link, target)
		require.NoError(t, err, "target %s", target)
		require.Len(t, q, ArmDOF)
		require.NoError(t, arm.ControlArmJoints(ctx, q))

		got, err := arm.EndEffectorPose(ctx, link)
		require.NoError(t, err)
		assert.InDelta(t, target.Point.X, got.Point.X, 1e-9)
		assert.InDelta(t, target.Point.Y, got.Point.Y, 1e-9)
		assert.InDelta(t, target.Point.Z, got.Point.Z, 1e-9)

		// Same rotation: v rotated by both orientations matches.
		v := r3.Vector{X: 0.3, Y: -0.2, Z: 0.9}
		a, b := geom.Rotate(target.Orientation, v), geom.Rotate(got.Orientation, v)
		assert.InDelta(t, 0, a.Sub(b).Norm(), 1e-9)
	}
}

func TestArmInverseKinematicsUnreachable(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})
	arm := newArm(t, sim)
	ctx := context.Background()
	before := arm.Joints()

	_, err := arm.InverseKinematics(ctx, 7, geom.NewPose(r3.Vector{X: 3, Y: 3, Z: 3}, r3.Vector{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrUnreachable)
	assert.Equal(t, before, arm.Joints(), "a failed solve must not move the arm")

	_, err = arm.InverseKinematics(ctx, 42, geom.NewPose(r3.Vector{X: 0.6, Y: 0.7, Z: 0.8}, r3.Vector{}))
	assert.Error(t, err)
}

func TestAttachCarriesBody(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})
	arm := newArm(t, sim)
	ctx := context.Background()

	grasp := geom.NewPose(r3.Vector{X: 0.6, Y: 0.7, Z: 0.64}, r3.Vector{X: math.Pi / 2})
	can, err := sim.LoadURDF(ctx, engine.Asset{Name: "can", File: "can.urdf", Pose: geom.NewPose(grasp.Point, r3.Vector{X: math.Pi / 2})})
	require.NoError(t, err)

	q, err := arm.InverseKinematics(ctx, 7, grasp)
	require.NoError(t, err)
	require.NoError(t, arm.ControlArmJoints(ctx, q))
	require.NoError(t, arm.Attach(ctx, can))
	require.NoError(t, arm.CloseGripper(ctx))
	assert.Equal(t, GripperClosed, arm.Gripper())

	lifted := grasp.Translate(r3.Vector{Z: 0.2})
	q, err = arm.InverseKinematics(ctx, 7, lifted)
	require.NoError(t, err)
	require.NoError(t, arm.ControlArmJoints(ctx, q))

	pose, err := sim.BasePose(ctx, can)
	require.NoError(t, err)
	assert.InDelta(t, 0.84, pose.Point.Z, 1e-9)

	require.NoError(t, arm.Detach(ctx))
	assert.Equal(t, engine.BodyID(-1), arm.Attached())

	q, err = arm.InverseKinematics(ctx, 7, grasp)
	require.NoError(t, err)
	require.NoError(t, arm.ControlArmJoints(ctx, q))
	pose, err = sim.BasePose(ctx, can)
	require.NoError(t, err)
	assert.InDelta(t, 0.84, pose.Point.Z, 1e-9, "a detached body stays put")
}

func TestChangeDynamicsValidatesLink(t *testing.T) {
	sim := New(Options{AssetDirectory: writeAssets(t)})
	arm := newArm(t, sim)
	ctx := context.Background()

	d := engine.Dynamics{LateralFriction: 1, SpinningFriction: 1, RollingFriction: 0.0001, FrictionAnchor: true}
	require.NoError(t, sim.ChangeDynamics(ctx, arm.ID(), 3, d))
	got, ok := sim.Dynamics(arm.ID(), 3)
	require.True(t, ok)
	assert.Equal(t, d, got)

	assert.Error(t, sim.ChangeDynamics(ctx, arm.ID(), 8, d))
	assert.ErrorIs(t, sim.ChangeDynamics(ctx, 99, 0, d), engine.ErrUnknownBody)
}

func TestStepRealtimeWaitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	sim := New(Options{Realtime: true, Clock: mock})

	done := make(chan error, 1)
	go func() { done <- sim.Step(context.Background(), time.Second) }()

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Equal(t, time.Second, sim.SimTime())
			return
		default:
			mock.Add(100 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestStepRealtimeHonoursCancel(t *testing.T) {
	sim := New(Options{Realtime: true, Clock: clock.NewMock()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sim.Step(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureImageSegmentsSphere(t *testing.T) {
	sim := New(Options{})
	ctx := context.Background()

	id, err := sim.CreateSphere(ctx, engine.Sphere{Radius: 0.05, Mass: 0.01, Color: [4]float64{0.5, 0.25, 0, 0.8}, Position: r3.Vector{X: 0.5, Y: 0.6, Z: 0.5}})
	require.NoError(t, err)

	frame, err := sim.CaptureImage(ctx, engine.Camera{
		Width: 64, Height: 48, FOV: 55, Near: 0.25, Far: 1.9,
		Eye: r3.Vector{X: 0.5, Y: -0.2, Z: 0.5}, Target: r3.Vector{X: 0.5, Y: 0.6, Z: 0.5}, Up: r3.Vector{Z: 1},
	})
	require.NoError(t, err)
	require.Len(t, frame.Depth, 64*48)

	center := 24*64 + 32
	assert.Equal(t, int32(id), frame.Seg[center])
	assert.Less(t, frame.Depth[center], float32(1))
	assert.Equal(t, int32(-1), frame.Seg[0])
	assert.Equal(t, float32(1), frame.Depth[0])
}

func TestCaptureImageRejectsBadCamera(t *testing.T) {
	sim := New(Options{})
	_, err := sim.CaptureImage(context.Background(), engine.Camera{Width: 10, Height: 10, FOV: 55, Near: 1, Far: 0.5})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	sim := New(Options{})
	require.NoError(t, sim.Close())
	require.NoError(t, sim.Close())

	_, err := sim.CreateSphere(context.Background(), engine.Sphere{Radius: 0.01})
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, sim.Step(context.Background(), time.Second), engine.ErrClosed)
}
