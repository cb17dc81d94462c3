package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/open-teleop/simcontroller/domain/datagen"
	"github.com/open-teleop/simcontroller/domain/motion"
	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/api"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/engine/backend"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
	"github.com/open-teleop/simcontroller/pkg/processing"
	"github.com/open-teleop/simcontroller/pkg/zeromq"
	"github.com/open-teleop/simcontroller/services"
)

const (
	shutdownTimeout = 5 * time.Second
	// closingSettle lets the last datagen pose come to rest before disconnecting.
	closingSettle = time.Second
)

// openEngine connects to the configured backend; tests swap it.
var openEngine = backend.Open

func run(c *cli.Context) (err error) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	configDir := c.String("config-dir")
	bootstrapCfg, err := config.LoadBootstrapConfig(configDir)
	if err != nil {
		return &usageError{err}
	}

	logger, err := customlog.NewLogrusLogger(bootstrapCfg.Logging.Level, bootstrapCfg.Logging.LogPath)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	scenario, err := config.LoadScenario(scenarioPath(configDir, bootstrapCfg.Data.ScenarioFilename))
	if err != nil {
		return &usageError{err}
	}

	generate := c.Bool("generate_data")
	numData := c.Int("num_data")
	if generate && numData < 0 {
		return &usageError{fmt.Errorf("--num_data must not be negative, got %d", numData)}
	}

	var plan motion.Plan
	if !generate {
		plan, err = motion.Resolve(scenario.Grasp.Storyboard, motion.Placement{X: c.Float64("can_x"), Y: c.Float64("can_y")})
		if err != nil {
			return &usageError{err}
		}
	}

	runID := uuid.NewString()
	logger.Infof("Starting run %s (generate_data=%v)", runID, generate)

	tracker, err := services.NewRunTracker(runID, scenario, clock.New(), logger)
	if err != nil {
		return err
	}

	shutdownProgress := startProgress(bootstrapCfg, tracker, logger)
	defer func() {
		err = multierr.Append(err, shutdownProgress())
	}()

	mode, total := services.ModeGrasp, len(plan)
	if generate {
		mode, total = services.ModeDataGen, numData
	}
	tracker.Begin(mode, total)
	defer func() {
		tracker.Finish(err)
	}()

	eng, err := openEngine(ctx, bootstrapCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Infof("Disconnecting from engine")
		err = multierr.Append(err, eng.Close())
	}()

	sc, err := scene.NewBuilder(eng, logger).Build(ctx, scenario.Scene)
	if err != nil {
		return err
	}

	src := randomSource(c.Uint64("seed"), logger)
	if generate {
		return generateData(ctx, eng, scenario, bootstrapCfg, runID, numData, src, tracker, logger)
	}
	return runStoryboard(ctx, eng, sc, scenario, plan, src, tracker, logger)
}

func runStoryboard(ctx context.Context, eng engine.Engine, sc *scene.Scene, scenario *config.Scenario, plan motion.Plan, src rand.Source, observer motion.Observer, logger customlog.Logger) error {
	seq, err := motion.NewSequencer(eng, sc, scenario.Grasp.Arm, motion.PourFromConfig(scenario.Grasp.Pour), src, observer, logger)
	if err != nil {
		return err
	}
	return seq.Run(ctx, plan)
}

func generateData(ctx context.Context, eng engine.Engine, scenario *config.Scenario, cfg *config.BootstrapConfig, runID string, n int, src rand.Source, observer datagen.Observer, logger customlog.Logger) error {
	sampler, err := datagen.NewSampler(scenario.DataGen, src)
	if err != nil {
		return &usageError{err}
	}
	gen := datagen.NewGenerator(eng, scenario.DataGen, sampler, datagen.Options{
		OutputDirectory: cfg.Data.OutputDirectory,
		Manifest:        cfg.Data.Manifest,
		RunID:           runID,
		Observer:        observer,
	}, logger)
	if err := gen.Run(ctx, n); err != nil {
		return err
	}
	return eng.Step(ctx, closingSettle)
}

// startProgress wires the event pipeline: tracker -> director -> ZeroMQ and
// websocket sinks. Publisher failures are logged; the run goes on without them.
func startProgress(cfg *config.BootstrapConfig, tracker services.RunTracker, logger customlog.Logger) func() error {
	registry := processing.NewKindRegistry(logger)
	registry.LoadOverrides(cfg.Processing.Priorities)

	director := processing.NewEventDirector(registry, &processing.DirectorOptions{
		Workers:   cfg.Processing.EventWorkers,
		QueueSize: cfg.Processing.EventQueueSize,
	}, logger)
	handler := processing.NewLoggingResultHandler(logger)
	director.SetProcessor(processing.EncodeEvent)
	director.SetResultHandler(handler.CreateHandlerFunc())

	var publisher *zeromq.ProgressPublisher
	if addr := cfg.ZeroMQ.ProgressBindAddress; addr != "" {
		p, err := zeromq.NewProgressPublisher(addr, cfg.ZeroMQ.MessageBufferSize, logger)
		if err != nil {
			logger.Warnf("Progress publisher disabled: %v", err)
		} else {
			publisher = p
			handler.AddPublisher(p)
		}
	}

	var monitor *api.Monitor
	if cfg.Server.HTTPPort > 0 {
		hub := api.NewProgressHub(cfg.ZeroMQ.MessageBufferSize, logger)
		handler.AddPublisher(hub)
		monitor = api.NewMonitor(tracker, director, hub, logger)
		monitor.Start(cfg.Server.HTTPPort)
	}

	director.Start()
	tracker.SetPublisher(director)

	return func() error {
		tracker.SetPublisher(nil)
		director.Stop()

		var err error
		if publisher != nil {
			err = multierr.Append(err, publisher.Close())
		}
		if monitor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = multierr.Append(err, monitor.Shutdown(ctx))
		}
		return err
	}
}

func scenarioPath(configDir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(configDir, name)
}

func randomSource(seed uint64, logger customlog.Logger) rand.Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger.Infof("Random seed %d", seed)
	return rand.NewPCG(seed, seed>>32|seed<<32)
}
