package datagen

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/engine/kinesim"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

const assetDir = "../../assets"

func testConfig(t *testing.T) config.DataGenConfig {
	t.Helper()
	scenario, err := config.LoadScenario("")
	require.NoError(t, err)
	cfg := scenario.DataGen
	// keep the test renders small
	cfg.Camera.Width, cfg.Camera.Height = 64, 48
	return cfg
}

type counter struct{ n int }

func (c *counter) SampleWritten(Sample, Label, int) { c.n++ }

func newGenerator(t *testing.T, cfg config.DataGenConfig, opts Options) (*Generator, *kinesim.Sim) {
	t.Helper()
	sampler, err := NewSampler(cfg, rand.NewPCG(3, 5))
	require.NoError(t, err)
	sim := kinesim.New(kinesim.Options{AssetDirectory: assetDir})
	t.Cleanup(func() { sim.Close() })
	return NewGenerator(sim, cfg, sampler, opts, customlog.NewNopLogger()), sim
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestSamplerStaysInBounds(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewSampler(cfg, rand.NewPCG(1, 1))
	require.NoError(t, err)

	assert.Equal(t, -1.0, s.Light.Min.X)
	assert.Equal(t, 5.0, s.Light.Max.Z)
	assert.Equal(t, 0.58, s.Object.Min.Z)

	for i := 0; i < 2000; i++ {
		sample := s.Next(i)
		assert.Equal(t, i, sample.Index)
		require.True(t, s.Light.Contains(sample.Light), "light %v", sample.Light)
		require.True(t, s.Eye.Contains(sample.Eye), "eye %v", sample.Eye)
		require.True(t, s.Target.Contains(sample.Target), "target %v", sample.Target)
		require.True(t, s.Object.Contains(sample.Object), "object %v", sample.Object)
		require.Equal(t, 0.58, sample.Object.Z)
	}
}

func TestSamplerRejectsBadBounds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bounds.Eye.Min = []float64{0.4, -0.3}
	_, err := NewSampler(cfg, rand.NewPCG(1, 1))
	assert.ErrorContains(t, err, "eye")

	cfg = testConfig(t)
	cfg.Bounds.Target.Min = []float64{0.7, 0.5, 0.4}
	_, err = NewSampler(cfg, rand.NewPCG(1, 1))
	assert.ErrorContains(t, err, "min exceeds max")

	_, err = NewSampler(testConfig(t), nil)
	assert.Error(t, err)
}

func TestRunWritesExactlyN(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			out := t.TempDir()
			obs := &counter{}
			g, sim := newGenerator(t, testConfig(t), Options{OutputDirectory: out, Observer: obs})

			require.NoError(t, g.Run(context.Background(), n))

			for _, dir := range []string{RGBDir, DepthDir, SegDir} {
				assert.Equal(t, n, countFiles(t, filepath.Join(out, dir)), dir)
			}
			f, err := os.Open(filepath.Join(out, LabelsFileName))
			require.NoError(t, err)
			defer f.Close()
			rows, err := csv.NewReader(f).ReadAll()
			require.NoError(t, err)
			require.Len(t, rows, n)
			assert.Equal(t, n, obs.n)

			box := Box{Min: g.sampler.Object.Min, Max: g.sampler.Object.Max}
			for i, row := range rows {
				require.Len(t, row, 7)
				assert.Equal(t, strconv.Itoa(i), row[0])
				var v [6]float64
				for j := range v {
					v[j], err = strconv.ParseFloat(row[j+1], 64)
					require.NoError(t, err)
				}
				assert.True(t, box.Contains(vec3(v[0], v[1], v[2])), "row %d position", i)
				assert.InDelta(t, math.Pi/2, v[3], 1e-12)
				assert.Zero(t, v[4])
				assert.Zero(t, v[5])
				_, err = os.Stat(filepath.Join(out, RGBDir, strconv.Itoa(i)+".jpg"))
				assert.NoError(t, err)
			}
			assert.Equal(t, 1, sim.CountKind(kinesim.KindURDF), "object is loaded once")
		})
	}
}

func TestRunRejectsNegativeCount(t *testing.T) {
	out := t.TempDir()
	g, sim := newGenerator(t, testConfig(t), Options{OutputDirectory: out})

	err := g.Run(context.Background(), -1)
	assert.ErrorContains(t, err, "must not be negative")
	assert.Empty(t, sim.Bodies())
	assert.NoFileExists(t, filepath.Join(out, LabelsFileName))
}

func TestRunOutputDirectoryFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))
	g, _ := newGenerator(t, testConfig(t), Options{OutputDirectory: blocker})

	err := g.Run(context.Background(), 2)
	var outErr *OutputError
	require.True(t, errors.As(err, &outErr))
	assert.True(t, strings.HasPrefix(outErr.Path, blocker))
}

func TestRunMissingObject(t *testing.T) {
	cfg := testConfig(t)
	cfg.Object.File = "mug.urdf"
	g, _ := newGenerator(t, cfg, Options{OutputDirectory: t.TempDir()})

	err := g.Run(context.Background(), 1)
	var loadErr *scene.AssetLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.ErrorIs(t, err, engine.ErrAssetNotFound)
}

func TestRunWritesManifest(t *testing.T) {
	out := t.TempDir()
	g, _ := newGenerator(t, testConfig(t), Options{OutputDirectory: out, Manifest: true, RunID: "run-1"})
	require.NoError(t, g.Run(context.Background(), 4))

	db, err := sql.Open("sqlite", filepath.Join(out, ManifestFileName))
	require.NoError(t, err)
	defer db.Close()

	var samples, written int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM samples WHERE run_id = ?`, "run-1").Scan(&samples))
	require.NoError(t, db.QueryRow(`SELECT written FROM runs WHERE run_id = ?`, "run-1").Scan(&written))
	assert.Equal(t, 4, samples)
	assert.Equal(t, 4, written)

	var rgb string
	require.NoError(t, db.QueryRow(`SELECT rgb_path FROM samples WHERE run_id = ? AND idx = 2`, "run-1").Scan(&rgb))
	assert.Equal(t, filepath.Join(RGBDir, "2.jpg"), rgb)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	out := t.TempDir()
	g, _ := newGenerator(t, testConfig(t), Options{OutputDirectory: out})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Run(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteNPYRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.npy")
	data := []float32{0, 0.25, 0.5, 1, 1, 1}
	require.NoError(t, writeNPY(path, data, 2, 3))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("\x93NUMPY")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var m mat.Dense
	require.NoError(t, npyio.Read(f, &m))
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 0.25, m.At(0, 1))
	assert.Equal(t, 1.0, m.At(1, 2))
}

func TestWriteNPYShapeMismatch(t *testing.T) {
	err := writeNPY(filepath.Join(t.TempDir(), "x.npy"), []float32{1, 2, 3}, 2, 2)
	assert.Error(t, err)
}

func TestRunReplacesEarlierCaptures(t *testing.T) {
	out := t.TempDir()
	g, _ := newGenerator(t, testConfig(t), Options{OutputDirectory: out})
	require.NoError(t, g.Run(context.Background(), 4))

	notes := filepath.Join(out, RGBDir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep"), 0644))

	g, _ = newGenerator(t, testConfig(t), Options{OutputDirectory: out})
	require.NoError(t, g.Run(context.Background(), 2))

	for _, dir := range []string{DepthDir, SegDir} {
		assert.Equal(t, 2, countFiles(t, filepath.Join(out, dir)), dir)
	}
	assert.Equal(t, 3, countFiles(t, filepath.Join(out, RGBDir)), "only captures are replaced")
	assert.FileExists(t, notes)
	assert.NoFileExists(t, filepath.Join(out, DepthDir, "3.npy"))

	raw, err := os.ReadFile(filepath.Join(out, LabelsFileName))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
}

func TestLabelsFileIsCommaSeparated(t *testing.T) {
	out := t.TempDir()
	g, _ := newGenerator(t, testConfig(t), Options{OutputDirectory: out})
	require.NoError(t, g.Run(context.Background(), 1))

	raw, err := os.ReadFile(filepath.Join(out, LabelsFileName))
	require.NoError(t, err)
	line := strings.TrimSuffix(string(raw), "\n")
	fields := strings.Split(line, ",")
	require.Len(t, fields, 7)
	assert.Equal(t, "0", fields[0])
	assert.Equal(t, "1.5707963267948966", fields[4])
	assert.NotContains(t, line, " ")
}

func TestLabelRecord(t *testing.T) {
	l := Label{Index: 4, Position: vec3(0.5, 0.75, 0.58), Angles: [3]float64{math.Pi / 2, 0, 0}}
	assert.Equal(t, []string{"4", "0.5", "0.75", "0.58", "1.5707963267948966", "0", "0"}, l.Record())
}

func vec3(x, y, z float64) r3.Vector { return r3.Vector{X: x, Y: y, Z: z} }
