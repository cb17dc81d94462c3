package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/yaml.v3"

	"github.com/open-teleop/simcontroller/domain/datagen"
	"github.com/open-teleop/simcontroller/domain/motion"
	"github.com/open-teleop/simcontroller/pkg/config"
	"github.com/open-teleop/simcontroller/pkg/engine"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
	"github.com/open-teleop/simcontroller/pkg/processing"
)

// Run modes
const (
	ModeGrasp   = "grasp"
	ModeDataGen = "datagen"
)

// Run states
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// EventPublisher accepts progress events without blocking.
// This avoids a direct dependency on the concrete EventDirector.
type EventPublisher interface {
	Publish(evt *processing.Event) error
}

// RunStatus is a snapshot of the current run
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Mode       string     `json:"mode,omitempty"`
	State      string     `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name,omitempty"`
	StepTotal int    `json:"step_total,omitempty"`
	Particles int    `json:"particles"`

	SamplesWritten   int `json:"samples_written"`
	SamplesRequested int `json:"samples_requested,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// RunTracker records the progress of a run and forwards it as events.
// It observes both the motion sequencer and the data-generation loop.
type RunTracker interface {
	motion.Observer
	datagen.Observer

	Begin(mode string, total int)
	Finish(err error)
	Status() RunStatus
	ScenarioYAML() ([]byte, error)
	SetPublisher(p EventPublisher)
}

// runTracker implements the RunTracker interface.
type runTracker struct {
	scenario  *config.Scenario
	clock     clock.Clock
	logger    customlog.Logger
	publisher EventPublisher
	status    RunStatus
	mu        sync.RWMutex
}

// NewRunTracker creates a tracker for runID. The publisher can be set later
// via SetPublisher; without one, progress is only logged.
func NewRunTracker(runID string, scenario *config.Scenario, clk clock.Clock, logger customlog.Logger) (RunTracker, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}
	if scenario == nil {
		return nil, fmt.Errorf("scenario cannot be nil")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &runTracker{
		scenario: scenario,
		clock:    clk,
		logger:   logger.WithField("run_id", runID),
		status:   RunStatus{RunID: runID, State: StateIdle},
	}, nil
}

// SetPublisher allows injecting the publisher after initialization.
func (t *runTracker) SetPublisher(p EventPublisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publisher = p
}

// Begin marks the run as started. total is the number of storyboard steps in
// grasp mode and the number of requested samples in datagen mode.
func (t *runTracker) Begin(mode string, total int) {
	now := t.clock.Now()

	t.mu.Lock()
	t.status.Mode = mode
	t.status.State = StateRunning
	t.status.StartedAt = &now
	t.status.FinishedAt = nil
	t.status.LastError = ""
	if mode == ModeDataGen {
		t.status.SamplesRequested = total
	} else {
		t.status.StepTotal = total
	}
	t.mu.Unlock()

	t.logger.Infof("Run started in %s mode (%d)", mode, total)
	t.emit(processing.KindRunStarted, map[string]interface{}{
		"mode":  mode,
		"total": total,
	})
}

// Finish records the outcome of the run.
func (t *runTracker) Finish(err error) {
	now := t.clock.Now()
	state := StateSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		state = StateCancelled
	default:
		state = StateFailed
	}

	t.mu.Lock()
	t.status.State = state
	t.status.FinishedAt = &now
	if err != nil {
		t.status.LastError = err.Error()
	}
	var elapsed time.Duration
	if t.status.StartedAt != nil {
		elapsed = now.Sub(*t.status.StartedAt)
	}
	t.mu.Unlock()

	data := map[string]interface{}{
		"state":      state,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
		t.logger.Errorf("Run %s after %s: %v", state, elapsed, err)
	} else {
		t.logger.Infof("Run %s after %s", state, elapsed)
	}
	t.emit(processing.KindRunFinished, data)
}

// Status returns a copy of the current status
func (t *runTracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// ScenarioYAML renders the scenario in effect for the run.
func (t *runTracker) ScenarioYAML() ([]byte, error) {
	data, err := yaml.Marshal(t.scenario)
	if err != nil {
		return nil, fmt.Errorf("error marshalling scenario: %w", err)
	}
	return data, nil
}

func (t *runTracker) StepStarted(step motion.Step, total int) {
	t.mu.Lock()
	t.status.StepIndex = step.Index
	t.status.StepName = step.Name
	t.status.StepTotal = total
	t.mu.Unlock()

	t.emit(processing.KindStepStarted, stepData(step, total))
}

func (t *runTracker) StepFinished(step motion.Step, total int, err error) {
	data := stepData(step, total)
	if err != nil {
		data["error"] = err.Error()
		t.mu.Lock()
		t.status.LastError = err.Error()
		t.mu.Unlock()
	}
	t.emit(processing.KindStepFinished, data)
}

func (t *runTracker) ParticleSpawned(step motion.Step, n, count int, body engine.BodyID) {
	t.mu.Lock()
	t.status.Particles++
	t.mu.Unlock()

	t.emit(processing.KindParticle, map[string]interface{}{
		"step":  step.Name,
		"n":     n,
		"count": count,
		"body":  int(body),
	})
}

func (t *runTracker) SampleWritten(sample datagen.Sample, label datagen.Label, written int) {
	t.mu.Lock()
	t.status.SamplesWritten = written
	t.mu.Unlock()

	t.emit(processing.KindSample, map[string]interface{}{
		"index":    sample.Index,
		"written":  written,
		"position": []float64{label.Position.X, label.Position.Y, label.Position.Z},
		"light":    []float64{sample.Light.X, sample.Light.Y, sample.Light.Z},
		"eye":      []float64{sample.Eye.X, sample.Eye.Y, sample.Eye.Z},
	})
}

func stepData(step motion.Step, total int) map[string]interface{} {
	return map[string]interface{}{
		"index": step.Index,
		"name":  step.Name,
		"kind":  string(step.Kind),
		"total": total,
	}
}

func (t *runTracker) emit(kind string, data map[string]interface{}) {
	t.mu.RLock()
	publisher := t.publisher
	runID := t.status.RunID
	t.mu.RUnlock()

	if publisher == nil {
		return
	}
	evt := &processing.Event{
		Kind:      kind,
		RunID:     runID,
		Timestamp: t.clock.Now().UnixNano(),
		Data:      data,
	}
	if err := publisher.Publish(evt); err != nil {
		t.logger.Debugf("Dropped %s event: %v", kind, err)
	}
}
