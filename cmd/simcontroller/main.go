package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/open-teleop/simcontroller/domain/datagen"
	"github.com/open-teleop/simcontroller/domain/scene"
	"github.com/open-teleop/simcontroller/pkg/engine"
)

// Process exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitAssetLoad   = 3
	exitUnreachable = 4
	exitOutputIO    = 5
	exitInterrupted = 130
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "simcontroller: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "simcontroller",
		Usage: "scripted grasp-and-pour controller and synthetic data generator",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "generate_data",
				Usage: "capture a randomized dataset instead of running the storyboard",
			},
			&cli.IntFlag{
				Name:  "num_data",
				Value: 10,
				Usage: "number of samples to generate",
			},
			&cli.Float64Flag{
				Name:  "can_x",
				Value: 0.6,
				Usage: "x position of the grasped can",
			},
			&cli.Float64Flag{
				Name:  "can_y",
				Value: 0.7,
				Usage: "y position of the grasped can",
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   "configs",
				Usage:   "directory holding simcontroller.yaml",
				EnvVars: []string{"SIMCONTROLLER_CONFIG_DIR"},
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "random seed, 0 seeds from the clock",
			},
		},
		Action: run,
	}
}

// usageError marks failures caused by flags or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var (
		usage *usageError
		asset *scene.AssetLoadError
		out   *datagen.OutputError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &asset), errors.Is(err, engine.ErrAssetNotFound):
		return exitAssetLoad
	case errors.Is(err, engine.ErrUnreachable):
		return exitUnreachable
	case errors.As(err, &out):
		return exitOutputIO
	default:
		return exitFailure
	}
}
