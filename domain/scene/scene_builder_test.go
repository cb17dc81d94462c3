package scene

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/engine/kinesim"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

const assetDir = "../../assets"

// countingEngine records how many bodies were requested.
type countingEngine struct {
	engine.Engine
	loads int
}

func (c *countingEngine) LoadURDF(ctx context.Context, a engine.Asset) (engine.BodyID, error) {
	c.loads++
	return c.Engine.LoadURDF(ctx, a)
}

func (c *countingEngine) LoadRobot(ctx context.Context, r engine.RobotSpec) (engine.Robot, error) {
	c.loads++
	return c.Engine.LoadRobot(ctx, r)
}

func defaultScene(t *testing.T) config.SceneConfig {
	t.Helper()
	scenario, err := config.LoadScenario("")
	require.NoError(t, err)
	return scenario.Scene
}

func TestBuildDefaultScene(t *testing.T) {
	sim := kinesim.New(kinesim.Options{AssetDirectory: assetDir})
	defer sim.Close()
	cfg := defaultScene(t)

	s, err := NewBuilder(sim, customlog.NewNopLogger()).Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.Len(t, s.Assets, len(cfg.Assets))
	assert.Len(t, s.Robots, 2)
	assert.Len(t, sim.Bodies(), len(cfg.Assets)+2, "each descriptor is loaded exactly once")

	left, link, err := s.Robot("left")
	require.NoError(t, err)
	assert.Equal(t, 7, link)

	n, err := sim.NumJoints(context.Background(), left.ID())
	require.NoError(t, err)
	for j := 0; j < n; j++ {
		d, ok := sim.Dynamics(left.ID(), j)
		require.True(t, ok, "joint %d has no friction", j)
		assert.Equal(t, engine.Dynamics{LateralFriction: 1, SpinningFriction: 1, RollingFriction: 0.0001, FrictionAnchor: true}, d)
	}

	right, _, err := s.Robot("right")
	require.NoError(t, err)
	_, ok := sim.Dynamics(right.ID(), 0)
	assert.False(t, ok, "friction only goes on the configured arm")

	assert.Equal(t, 5.0, sim.Light().Z)
	_, _, err = s.Robot("middle")
	assert.Error(t, err)
}

func TestBuildMissingAsset(t *testing.T) {
	sim := kinesim.New(kinesim.Options{AssetDirectory: assetDir})
	defer sim.Close()
	cfg := defaultScene(t)
	cfg.Assets[3].File = "missing_station.urdf"

	_, err := NewBuilder(sim, customlog.NewNopLogger()).Build(context.Background(), cfg)
	require.Error(t, err)

	var loadErr *AssetLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "station", loadErr.Name)
	assert.Equal(t, "missing_station.urdf", loadErr.File)
	assert.ErrorIs(t, err, engine.ErrAssetNotFound)
}

func TestBuildRejectsDescriptorsBeforeLoading(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.SceneConfig)
		want   string
	}{
		{"empty file", func(c *config.SceneConfig) { c.Assets[1].File = "" }, "missing file"},
		{"duplicate", func(c *config.SceneConfig) { c.Robots[1].Name = c.Assets[0].Name }, "duplicate name"},
		{"short position", func(c *config.SceneConfig) { c.Assets[2].Position = []float64{1} }, "position needs 3 values"},
		{"bad euler", func(c *config.SceneConfig) { c.Robots[0].Euler = []float64{0, 1} }, "euler needs 3 values"},
		{"unknown friction robot", func(c *config.SceneConfig) { c.Friction.Robot = "middle" }, "unknown robot"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultScene(t)
			tc.mutate(&cfg)
			eng := &countingEngine{Engine: kinesim.New(kinesim.Options{AssetDirectory: assetDir})}
			defer eng.Close()

			_, err := NewBuilder(eng, customlog.NewNopLogger()).Build(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Zero(t, eng.loads)
		})
	}
}
