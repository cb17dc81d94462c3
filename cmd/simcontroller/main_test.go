package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-teleop/simcontroller/domain/datagen"
	"github.com/open-teleop/simcontroller/domain/motion"
	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

func writeBootstrap(t *testing.T, outDir string) string {
	t.Helper()
	assets, err := filepath.Abs("../../assets")
	require.NoError(t, err)
	return writeBootstrapWithAssets(t, assets, outDir)
}

func writeBootstrapWithAssets(t *testing.T, assets, outDir string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`logging:
  level: "error"
server:
  http_port: 0
engine:
  backend: "kinesim"
  kinesim:
    realtime: false
zeromq:
  progress_bind_address: ""
data:
  asset_directory: %q
  output_directory: %q
  manifest: true
`, assets, outDir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "simcontroller.yaml"), []byte(cfg), 0644))
	return dir
}

func TestRunStoryboard(t *testing.T) {
	configDir := writeBootstrap(t, t.TempDir())
	err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--seed", "1"})
	require.NoError(t, err)
}

func TestRunUnreachablePlacement(t *testing.T) {
	configDir := writeBootstrap(t, t.TempDir())
	err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--can_x", "3", "--can_y", "3"})
	require.Error(t, err)

	var stepErr *motion.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "above-can", stepErr.Name)
	assert.Equal(t, exitUnreachable, exitCode(err))
}

func TestRunGenerateData(t *testing.T) {
	outDir := t.TempDir()
	configDir := writeBootstrap(t, outDir)

	err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--generate_data", "--num_data", "2", "--seed", "9"})
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(outDir, datagen.LabelsFileName))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	for _, sub := range []string{datagen.RGBDir, datagen.DepthDir, datagen.SegDir} {
		entries, err := os.ReadDir(filepath.Join(outDir, sub))
		require.NoError(t, err)
		assert.Len(t, entries, 2, sub)
	}
	assert.FileExists(t, filepath.Join(outDir, datagen.ManifestFileName))
}

func TestRunRejectsNegativeCount(t *testing.T) {
	configDir := writeBootstrap(t, t.TempDir())
	err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--generate_data", "--num_data", "-1"})
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestRunMissingConfig(t *testing.T) {
	err := newApp().Run([]string{"simcontroller", "--config-dir", t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{&scene.AssetLoadError{Name: "table", File: "table.urdf", Err: engine.ErrAssetNotFound}, exitAssetLoad},
		{&motion.StepError{Index: 2, Err: engine.ErrUnreachable}, exitUnreachable},
		{&datagen.OutputError{Path: "/x", Err: os.ErrPermission}, exitOutputIO},
		{fmt.Errorf("interrupted: %w", context.Canceled), exitInterrupted},
		{&usageError{errors.New("bad flag")}, exitUsage},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, exitCode(c.err), "%v", c.err)
	}
}

// countingEngine records Close and Step calls on the engine a run opens.
type countingEngine struct {
	engine.Engine

	mu     sync.Mutex
	closes int
	steps  []time.Duration
}

func (e *countingEngine) Close() error {
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return e.Engine.Close()
}

func (e *countingEngine) Step(ctx context.Context, d time.Duration) error {
	e.mu.Lock()
	e.steps = append(e.steps, d)
	e.mu.Unlock()
	return e.Engine.Step(ctx, d)
}

func (e *countingEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

func (e *countingEngine) lastStep() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return 0
	}
	return e.steps[len(e.steps)-1]
}

// useCountingEngine wraps the engine the next run opens. opened runs right
// after the connection is made.
func useCountingEngine(t *testing.T, opened func()) *countingEngine {
	t.Helper()
	counted := &countingEngine{}
	open := openEngine
	openEngine = func(ctx context.Context, cfg *config.BootstrapConfig, logger customlog.Logger) (engine.Engine, error) {
		eng, err := open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		counted.Engine = eng
		if opened != nil {
			opened()
		}
		return counted, nil
	}
	t.Cleanup(func() { openEngine = open })
	return counted
}

func TestEngineClosedOnEveryExit(t *testing.T) {
	t.Run("storyboard", func(t *testing.T) {
		eng := useCountingEngine(t, nil)
		configDir := writeBootstrap(t, t.TempDir())
		err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--seed", "1"})
		require.NoError(t, err)
		assert.Equal(t, 1, eng.closeCount())
	})

	t.Run("unreachable", func(t *testing.T) {
		eng := useCountingEngine(t, nil)
		configDir := writeBootstrap(t, t.TempDir())
		err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--can_x", "3"})
		assert.Equal(t, exitUnreachable, exitCode(err))
		assert.Equal(t, 1, eng.closeCount())
	})

	t.Run("missing asset", func(t *testing.T) {
		eng := useCountingEngine(t, nil)
		configDir := writeBootstrapWithAssets(t, t.TempDir(), t.TempDir())
		err := newApp().Run([]string{"simcontroller", "--config-dir", configDir})
		assert.Equal(t, exitAssetLoad, exitCode(err))
		assert.Equal(t, 1, eng.closeCount())
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		eng := useCountingEngine(t, cancel)
		configDir := writeBootstrap(t, t.TempDir())
		err := newApp().RunContext(ctx, []string{"simcontroller", "--config-dir", configDir})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, exitInterrupted, exitCode(err))
		assert.Equal(t, 1, eng.closeCount())
	})

	t.Run("generate data", func(t *testing.T) {
		eng := useCountingEngine(t, nil)
		configDir := writeBootstrap(t, t.TempDir())
		err := newApp().Run([]string{"simcontroller", "--config-dir", configDir, "--generate_data", "--num_data", "1"})
		require.NoError(t, err)
		assert.Equal(t, closingSettle, eng.lastStep())
		assert.Equal(t, 1, eng.closeCount())
	})
}
