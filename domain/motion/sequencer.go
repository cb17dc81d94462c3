package motion

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// StepError reports the step a run stopped at.
type StepError struct {
	Index int
	Name  string
	Kind  Kind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("storyboard step %d (%s, %s): %v", e.Index, e.Name, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Observer is told about progress. Calls come from the goroutine running
// the sequence and must not block.
type Observer interface {
	StepStarted(step Step, total int)
	StepFinished(step Step, total int, err error)
	ParticleSpawned(step Step, n, count int, body engine.BodyID)
}

const defaultPourInterval = 50 * time.Millisecond

// Pour shapes the particles of a pour step.
type Pour struct {
	Radius   float64
	Mass     float64
	Color    [4]float64
	Offset   r3.Vector
	Jitter   r3.Vector
	Interval time.Duration
}

// PourFromConfig fills in the particle defaults for missing values.
func PourFromConfig(c config.PourConfig) Pour {
	p := Pour{
		Radius:   c.Radius,
		Mass:     c.Mass,
		Color:    [4]float64{0.5, 0.25, 0, 0.8},
		Offset:   geom.Vec(c.Offset),
		Jitter:   geom.Vec(c.Jitter),
		Interval: time.Duration(c.IntervalMs) * time.Millisecond,
	}
	if p.Radius <= 0 {
		p.Radius = 0.008
	}
	if p.Mass <= 0 {
		p.Mass = 0.01
	}
	if p.Interval <= 0 {
		p.Interval = defaultPourInterval
	}
	if len(c.Color) == 4 {
		copy(p.Color[:], c.Color)
	}
	return p
}

// Sequencer drives one arm through a plan.
type Sequencer struct {
	engine   engine.Engine
	scene    *scene.Scene
	robot    engine.Robot
	link     int
	pour     Pour
	src      rand.Source
	observer Observer
	logger   customlog.Logger

	spawned   map[string]engine.BodyID
	particles int
}

// NewSequencer binds the sequencer to the named arm of a built scene.
// src seeds the pour jitter; observer may be nil.
func NewSequencer(eng engine.Engine, sc *scene.Scene, arm string, pour Pour, src rand.Source, observer Observer, logger customlog.Logger) (*Sequencer, error) {
	robot, link, err := sc.Robot(arm)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewPCG(1, 2)
	}
	return &Sequencer{
		engine:   eng,
		scene:    sc,
		robot:    robot,
		link:     link,
		pour:     pour,
		src:      src,
		observer: observer,
		logger:   logger.WithField("robot", arm),
		spawned:  make(map[string]engine.BodyID),
	}, nil
}

// Run executes plan in order and stops at the first failing step. A kinematic
// target without a solution fails with a StepError wrapping
// engine.ErrUnreachable; the arm keeps its last commanded configuration.
func (s *Sequencer) Run(ctx context.Context, plan Plan) error {
	total := len(plan)
	s.logger.Infof("Running storyboard of %d steps", total)
	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("storyboard interrupted before step %d (%s): %w", step.Index, step.Name, err)
		}
		if s.observer != nil {
			s.observer.StepStarted(step, total)
		}
		err := s.execute(ctx, step)
		if err == nil && step.Settle > 0 {
			err = s.engine.Step(ctx, step.Settle)
		}
		if err != nil {
			err = &StepError{Index: step.Index, Name: step.Name, Kind: step.Kind, Err: err}
		}
		if s.observer != nil {
			s.observer.StepFinished(step, total, err)
		}
		if err != nil {
			return err
		}
	}
	s.logger.Infof("Storyboard complete, %d particles poured", s.particles)
	return nil
}

func (s *Sequencer) execute(ctx context.Context, step Step) error {
	log := s.logger.WithFields(map[string]interface{}{"step": step.Name, "kind": string(step.Kind)})
	switch step.Kind {
	case KindSpawn:
		id, err := s.engine.LoadURDF(ctx, step.Asset)
		if err != nil {
			return &scene.AssetLoadError{Name: step.Asset.Name, File: step.Asset.File, Err: err}
		}
		s.spawned[step.Name] = id
		log.Infof("Spawned %s as body %d at %s", step.Asset.File, id, step.Asset.Pose)
		return nil
	case KindMove:
		log.Infof("Moving to %s", step.Target)
		return s.moveTo(ctx, step.Target)
	case KindOffset:
		current, err := s.robot.EndEffectorPose(ctx, s.link)
		if err != nil {
			return err
		}
		target := current.Translate(step.Axis.Unit(step.Delta))
		log.Infof("Offsetting %+.3f along %s to %s", step.Delta, step.Axis, target)
		return s.moveTo(ctx, target)
	case KindGripper:
		return s.gripper(ctx, step, log)
	case KindPour:
		return s.pourParticles(ctx, step, log)
	case KindWait:
		log.Debugf("Waiting %v", step.Settle)
		return nil
	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// moveTo solves for target and commands the arm only when the solution is usable.
func (s *Sequencer) moveTo(ctx context.Context, target geom.Pose) error {
	q, err := s.robot.InverseKinematics(ctx, s.link, target)
	if err != nil {
		return err
	}
	q, err = engine.ValidateSolution(q, s.robot.DOF())
	if err != nil {
		return err
	}
	return s.robot.ControlArmJoints(ctx, q)
}

func (s *Sequencer) gripper(ctx context.Context, step Step, log customlog.Logger) error {
	if step.Attach != "" {
		body, err := s.body(step.Attach)
		if err != nil {
			return err
		}
		if err := s.robot.Attach(ctx, body); err != nil {
			return fmt.Errorf("failed to attach %s: %w", step.Attach, err)
		}
		log.Infof("Attached %s (body %d)", step.Attach, body)
	}
	if step.Detach {
		if err := s.robot.Detach(ctx); err != nil {
			return fmt.Errorf("failed to detach: %w", err)
		}
		log.Infof("Detached")
	}
	if step.Close {
		log.Infof("Closing gripper")
		return s.robot.CloseGripper(ctx)
	}
	log.Infof("Opening gripper")
	return s.robot.OpenGripper(ctx)
}

func (s *Sequencer) body(name string) (engine.BodyID, error) {
	if id, ok := s.spawned[name]; ok {
		return id, nil
	}
	if id, ok := s.scene.Assets[name]; ok {
		return id, nil
	}
	return -1, fmt.Errorf("no body named %q", name)
}

// pourParticles spawns step.Count spheres one at a time below the tool.
func (s *Sequencer) pourParticles(ctx context.Context, step Step, log customlog.Logger) error {
	ee, err := s.robot.EndEffectorPose(ctx, s.link)
	if err != nil {
		return err
	}
	origin := ee.Point.Add(s.pour.Offset)
	jx := distuv.Uniform{Min: -s.pour.Jitter.X, Max: s.pour.Jitter.X, Src: s.src}
	jy := distuv.Uniform{Min: -s.pour.Jitter.Y, Max: s.pour.Jitter.Y, Src: s.src}
	jz := distuv.Uniform{Min: -s.pour.Jitter.Z, Max: s.pour.Jitter.Z, Src: s.src}

	log.Infof("Pouring %d particles from %.3f, %.3f, %.3f", step.Count, origin.X, origin.Y, origin.Z)
	for n := 0; n < step.Count; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := origin.Add(r3.Vector{X: jx.Rand(), Y: jy.Rand(), Z: jz.Rand()})
		id, err := s.engine.CreateSphere(ctx, engine.Sphere{
			Radius:   s.pour.Radius,
			Mass:     s.pour.Mass,
			Color:    s.pour.Color,
			Position: pos,
		})
		if err != nil {
			return fmt.Errorf("failed to spawn particle %d of %d: %w", n+1, step.Count, err)
		}
		s.particles++
		if s.observer != nil {
			s.observer.ParticleSpawned(step, n+1, step.Count, id)
		}
		if err := s.engine.Step(ctx, s.pour.Interval); err != nil {
			return err
		}
	}
	return nil
}

// Particles returns how many pour particles this sequencer has created.
func (s *Sequencer) Particles() int { return s.particles }

// Spawned returns the body created by the named spawn step.
func (s *Sequencer) Spawned(name string) (engine.BodyID, bool) {
	id, ok := s.spawned[name]
	return id, ok
}

// IsUnreachable reports whether err came from a target with no kinematic solution.
func IsUnreachable(err error) bool {
	return errors.Is(err, engine.ErrUnreachable)
}
