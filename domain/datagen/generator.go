// Package datagen renders randomized captures of one object and writes them
// out as a labelled dataset.
package datagen

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"

	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/geom"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// Output layout under the output directory.
const (
	RGBDir         = "rgb"
	DepthDir       = "depth"
	SegDir         = "seg"
	LabelsFileName = "labels.csv"
)

// OutputError is a failure to create or write dataset files.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("dataset output %s: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Label is one row of labels.csv.
type Label struct {
	Index    int
	Position r3.Vector
	Angles   [3]float64
}

// Record renders the label as CSV fields.
func (l Label) Record() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		strconv.Itoa(l.Index),
		f(l.Position.X), f(l.Position.Y), f(l.Position.Z),
		f(l.Angles[0]), f(l.Angles[1]), f(l.Angles[2]),
	}
}

// Files are the paths written for one sample, relative to the output directory.
type Files struct {
	RGB   string
	Depth string
	Seg   string
}

// Observer is told after each sample is on disk. written counts the
// samples completed so far, this one included.
type Observer interface {
	SampleWritten(sample Sample, label Label, written int)
}

// Options configures a Generator.
type Options struct {
	OutputDirectory string
	// Manifest enables the sqlite index; RunID keys its rows.
	Manifest bool
	RunID    string
	Observer Observer
}

// Generator is the data-generation loop.
type Generator struct {
	engine  engine.Engine
	cfg     config.DataGenConfig
	sampler *Sampler
	opts    Options
	logger  customlog.Logger
}

// NewGenerator creates a generator drawing from sampler.
func NewGenerator(eng engine.Engine, cfg config.DataGenConfig, sampler *Sampler, opts Options, logger customlog.Logger) *Generator {
	return &Generator{
		engine:  eng,
		cfg:     cfg,
		sampler: sampler,
		opts:    opts,
		logger:  logger.WithField("component", "datagen"),
	}
}

// Run writes n samples. n must not be negative; n == 0 still creates the
// directory layout and an empty labels file. Captures and labels from an
// earlier run into the same directory are replaced.
func (g *Generator) Run(ctx context.Context, n int) (err error) {
	if n < 0 {
		return fmt.Errorf("sample count must not be negative, got %d", n)
	}
	cam, err := g.camera()
	if err != nil {
		return err
	}

	obj := g.cfg.Object
	object, err := g.engine.LoadURDF(ctx, engine.Asset{
		Name:      obj.Name,
		File:      obj.File,
		Pose:      geom.NewPose(geom.Vec(obj.Position), geom.Vec(obj.Euler)),
		FixedBase: obj.FixedBase,
	})
	if err != nil {
		return &scene.AssetLoadError{Name: obj.Name, File: obj.File, Err: err}
	}
	settle := engine.Seconds(g.cfg.Settle)
	if err := g.engine.Step(ctx, settle); err != nil {
		return err
	}

	out := g.opts.OutputDirectory
	for _, dir := range []string{out, filepath.Join(out, RGBDir), filepath.Join(out, DepthDir), filepath.Join(out, SegDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &OutputError{Path: dir, Err: err}
		}
	}
	for dir, ext := range map[string]string{RGBDir: ".jpg", DepthDir: ".npy", SegDir: ".jpg"} {
		if err := clearCaptures(filepath.Join(out, dir), ext); err != nil {
			return err
		}
	}

	labelsPath := filepath.Join(out, LabelsFileName)
	labelsFile, err := os.Create(labelsPath)
	if err != nil {
		return &OutputError{Path: labelsPath, Err: err}
	}
	defer func() {
		if cerr := labelsFile.Close(); cerr != nil && err == nil {
			err = &OutputError{Path: labelsPath, Err: cerr}
		}
	}()
	labels := csv.NewWriter(labelsFile)
	labels.Comma = ','

	var manifest *Manifest
	if g.opts.Manifest {
		manifest, err = OpenManifest(filepath.Join(out, ManifestFileName), g.opts.RunID, n)
		if err != nil {
			return &OutputError{Path: filepath.Join(out, ManifestFileName), Err: err}
		}
		defer manifest.Close()
	}

	euler := geom.Vec(g.cfg.ObjectEuler)
	orientation := geom.FromEuler(euler.X, euler.Y, euler.Z)
	angles := geom.Vec(g.cfg.LabelAngles)

	g.logger.Infof("Generating %d samples into %s", n, out)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("data generation interrupted after %d samples: %w", i, err)
		}
		s := g.sampler.Next(i)

		if err := g.engine.ConfigureLight(ctx, s.Light); err != nil {
			return err
		}
		cam.Eye, cam.Target = s.Eye, s.Target
		if err := g.engine.ResetBasePose(ctx, object, geom.Pose{Point: s.Object, Orientation: orientation}); err != nil {
			return err
		}
		if err := g.engine.Step(ctx, settle); err != nil {
			return err
		}
		pose, err := g.engine.BasePose(ctx, object)
		if err != nil {
			return err
		}
		frame, err := g.engine.CaptureImage(ctx, cam)
		if err != nil {
			return err
		}

		files, err := g.writeFrame(i, frame)
		if err != nil {
			return err
		}
		label := Label{Index: i, Position: pose.Point, Angles: [3]float64{angles.X, angles.Y, angles.Z}}
		if err := labels.Write(label.Record()); err != nil {
			return &OutputError{Path: labelsPath, Err: err}
		}
		labels.Flush()
		if err := labels.Error(); err != nil {
			return &OutputError{Path: labelsPath, Err: err}
		}
		if manifest != nil {
			if err := manifest.Record(s, label, files); err != nil {
				return &OutputError{Path: filepath.Join(out, ManifestFileName), Err: err}
			}
		}
		if g.opts.Observer != nil {
			g.opts.Observer.SampleWritten(s, label, i+1)
		}
		g.logger.Debugf("Sample %d: object at %.3f, %.3f, %.3f", i, pose.Point.X, pose.Point.Y, pose.Point.Z)
	}
	g.logger.Infof("Wrote %d samples", n)
	return nil
}

// clearCaptures removes capture files an earlier run left in dir, so the
// directory holds exactly the samples of this run.
func clearCaptures(dir, ext string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &OutputError{Path: dir, Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			return &OutputError{Path: path, Err: err}
		}
	}
	return nil
}

func (g *Generator) camera() (engine.Camera, error) {
	c := g.cfg.Camera
	if c.Width <= 0 || c.Height <= 0 {
		return engine.Camera{}, fmt.Errorf("datagen camera size must be positive, got %dx%d", c.Width, c.Height)
	}
	up := geom.Vec(c.Up)
	if len(c.Up) == 0 {
		up = r3.Vector{Z: 1}
	}
	return engine.Camera{
		Width:  c.Width,
		Height: c.Height,
		FOV:    c.FOV,
		Near:   c.Near,
		Far:    c.Far,
		Up:     up,
	}, nil
}

func (g *Generator) writeFrame(i int, frame *engine.Frame) (Files, error) {
	name := strconv.Itoa(i)
	files := Files{
		RGB:   filepath.Join(RGBDir, name+".jpg"),
		Depth: filepath.Join(DepthDir, name+".npy"),
		Seg:   filepath.Join(SegDir, name+".jpg"),
	}
	out := g.opts.OutputDirectory

	path := filepath.Join(out, files.RGB)
	if err := imaging.Save(frame.RGB, path); err != nil {
		return files, &OutputError{Path: path, Err: err}
	}
	path = filepath.Join(out, files.Depth)
	if err := writeNPY(path, frame.Depth, frame.Height, frame.Width); err != nil {
		return files, &OutputError{Path: path, Err: err}
	}
	path = filepath.Join(out, files.Seg)
	if err := imaging.Save(segImage(frame), path); err != nil {
		return files, &OutputError{Path: path, Err: err}
	}
	return files, nil
}

// segImage maps body ids to colors spread around the hue circle; background is black.
func segImage(frame *engine.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, id := range frame.Seg {
		c := color.NRGBA{A: 255}
		if id >= 0 {
			c = idColor(id)
		}
		img.SetNRGBA(i%frame.Width, i/frame.Width, c)
	}
	return img
}

func idColor(id int32) color.NRGBA {
	// golden-angle hue steps keep neighbouring ids apart
	h := math.Mod(float64(id)*137.508, 360) / 60
	x := uint8(255 * (1 - math.Abs(math.Mod(h, 2)-1)))
	switch int(h) {
	case 0:
		return color.NRGBA{R: 255, G: x, A: 255}
	case 1:
		return color.NRGBA{R: x, G: 255, A: 255}
	case 2:
		return color.NRGBA{G: 255, B: x, A: 255}
	case 3:
		return color.NRGBA{G: x, B: 255, A: 255}
	case 4:
		return color.NRGBA{R: x, B: 255, A: 255}
	default:
		return color.NRGBA{R: 255, B: x, A: 255}
	}
}
