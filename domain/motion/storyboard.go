package motion

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
)

// Kind is the action a storyboard step performs.
type Kind string

const (
	KindSpawn   Kind = "spawn"
	KindMove    Kind = "move"
	KindOffset  Kind = "offset"
	KindGripper Kind = "gripper"
	KindPour    Kind = "pour"
	KindWait    Kind = "wait"
)

// Placement is the requested x/y of the grasped object.
type Placement struct {
	X float64
	Y float64
}

// Step is one resolved storyboard row. Only the fields of its Kind are set.
type Step struct {
	Index int
	Name  string
	Kind  Kind

	Asset  engine.Asset // spawn
	Target geom.Pose    // move

	Axis  geom.Axis // offset
	Delta float64

	Close  bool // gripper
	Attach string
	Detach bool

	Count int // pour

	Settle time.Duration
}

func (s Step) String() string {
	return fmt.Sprintf("#%d %s (%s)", s.Index, s.Name, s.Kind)
}

// Plan is the ordered list of steps one run executes.
type Plan []Step

// Resolve turns storyboard rows into a plan. Rows flagged placement_xy take
// their x and y from at. The result depends only on its inputs.
func Resolve(rows []config.StepConfig, at Placement) (Plan, error) {
	plan := make(Plan, 0, len(rows))
	names := make(map[string]bool, len(rows))
	for i, row := range rows {
		step, err := resolveStep(i, row, at)
		if err != nil {
			return nil, err
		}
		if step.Name == "" {
			step.Name = fmt.Sprintf("%s-%d", step.Kind, i)
		}
		if names[step.Name] {
			return nil, fmt.Errorf("storyboard step %d: duplicate name %q", i, step.Name)
		}
		names[step.Name] = true
		plan = append(plan, step)
	}
	return plan, nil
}

func resolveStep(i int, row config.StepConfig, at Placement) (Step, error) {
	step := Step{
		Index:  i,
		Name:   row.Name,
		Kind:   Kind(row.Kind),
		Settle: engine.Seconds(row.Settle),
	}
	fail := func(format string, args ...interface{}) (Step, error) {
		return Step{}, fmt.Errorf("storyboard step %d (%s): %s", i, row.Name, fmt.Sprintf(format, args...))
	}
	if row.Settle < 0 {
		return fail("negative settle %v", row.Settle)
	}

	switch step.Kind {
	case KindSpawn:
		if row.File == "" {
			return fail("spawn needs a file")
		}
		pose, err := targetPose(row, at)
		if err != nil {
			return fail("%v", err)
		}
		step.Asset = engine.Asset{Name: row.Name, File: row.File, Pose: pose, FixedBase: row.FixedBase}
	case KindMove:
		pose, err := targetPose(row, at)
		if err != nil {
			return fail("%v", err)
		}
		step.Target = pose
	case KindOffset:
		axis, err := geom.ParseAxis(row.Axis)
		if err != nil {
			return fail("%v", err)
		}
		step.Axis = axis
		step.Delta = row.Delta
	case KindGripper:
		switch row.Action {
		case "open":
		case "close":
			step.Close = true
		default:
			return fail("gripper action must be open or close, got %q", row.Action)
		}
		if row.Attach != "" && row.Detach {
			return fail("cannot attach and detach in one step")
		}
		step.Attach = row.Attach
		step.Detach = row.Detach
	case KindPour:
		if row.Count < 0 {
			return fail("negative pour count %d", row.Count)
		}
		step.Count = row.Count
	case KindWait:
	default:
		return fail("unknown kind %q", row.Kind)
	}
	return step, nil
}

func targetPose(row config.StepConfig, at Placement) (geom.Pose, error) {
	if len(row.Position) != 3 {
		return geom.Pose{}, fmt.Errorf("position needs 3 values, got %d", len(row.Position))
	}
	if len(row.Euler) != 0 && len(row.Euler) != 3 {
		return geom.Pose{}, fmt.Errorf("euler needs 3 values, got %d", len(row.Euler))
	}
	p := geom.Vec(row.Position)
	if row.PlacementXY {
		p = r3.Vector{X: at.X, Y: at.Y, Z: p.Z}
	}
	return geom.NewPose(p, geom.Vec(row.Euler)), nil
}
