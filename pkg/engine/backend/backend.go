// Package backend opens the engine selected in the bootstrap configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	"github.com/open-teleop/simcontroller/pkg/engine/bridge"
	"github.com/open-teleop/simcontroller/pkg/engine/kinesim"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// Open connects to the configured backend. The caller owns the returned
// handle and must Close it on every exit path.
func Open(ctx context.Context, cfg *config.BootstrapConfig, logger customlog.Logger) (engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch cfg.Engine.Backend {
	case config.BackendKinesim:
		logger.Infof("Using in-process kinematic backend (realtime=%v)", cfg.Engine.Kinesim.Realtime)
		return kinesim.New(kinesim.Options{
			Realtime:       cfg.Engine.Kinesim.Realtime,
			UpperArm:       cfg.Engine.Kinesim.UpperArm,
			Forearm:        cfg.Engine.Kinesim.Forearm,
			AssetDirectory: cfg.Data.AssetDirectory,
			Logger:         logger.WithField("component", "kinesim"),
		}), nil
	case config.BackendBridge:
		timeout := time.Duration(cfg.Engine.Bridge.TimeoutMs) * time.Millisecond
		client, err := bridge.Dial(cfg.Engine.Bridge.RequestAddress, timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open simulator bridge: %w", err)
		}
		return bridge.NewEngine(client), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}
