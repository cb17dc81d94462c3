package processing

import (
	"fmt"
	"sync"
	"sync/atomic"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// Constants for priority levels
const (
	PriorityHigh     = "HIGH"
	PriorityStandard = "STANDARD"
	PriorityLow      = "LOW"
)

// EventDirector routes events to the processing pool matching their priority
type EventDirector struct {
	logger        customlog.Logger
	pools         map[string]*ProcessingPool
	registry      *KindRegistry
	processor     EventProcessor
	resultHandler ResultHandler
	seq           atomic.Uint64
	running       bool
	mu            sync.RWMutex
}

// DirectorOptions holds configuration options for the EventDirector
type DirectorOptions struct {
	Workers   int
	QueueSize int
}

// NewEventDirector creates the HIGH, STANDARD and LOW pools
func NewEventDirector(registry *KindRegistry, options *DirectorOptions, logger customlog.Logger) *EventDirector {
	if options == nil {
		options = &DirectorOptions{Workers: 1, QueueSize: 256}
	}

	d := &EventDirector{
		logger:   logger,
		registry: registry,
		pools:    make(map[string]*ProcessingPool, 3),
	}
	for _, name := range []string{PriorityHigh, PriorityStandard, PriorityLow} {
		d.pools[name] = NewProcessingPool(name, options.Workers, options.QueueSize, logger)
	}

	logger.Infof("Event director initialized: %d workers per pool, queue size %d",
		options.Workers, options.QueueSize)
	return d
}

// SetProcessor sets the event processor function for all pools
func (d *EventDirector) SetProcessor(processor EventProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.processor = processor
	for _, pool := range d.pools {
		pool.SetProcessor(processor)
	}
}

// SetResultHandler sets the result handler function for all pools
func (d *EventDirector) SetResultHandler(handler ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resultHandler = handler
	for _, pool := range d.pools {
		pool.SetResultHandler(handler)
	}
}

// Publish stamps the event with the next sequence number and enqueues it.
// It never blocks the caller.
func (d *EventDirector) Publish(evt *Event) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return fmt.Errorf("event director is not running")
	}

	evt.Seq = d.seq.Add(1)
	if evt.Timestamp == 0 {
		evt.Timestamp = GetCurrentTimestamp()
	}

	priority, exists := d.registry.GetPriority(evt.Kind)
	if !exists {
		d.logger.Warnf("No priority found for event kind '%s', using STANDARD", evt.Kind)
		priority = PriorityStandard
	}
	d.registry.UpdateStats(evt.Kind, evt.Timestamp)

	pool, ok := d.pools[priority]
	if !ok {
		pool = d.pools[PriorityStandard]
	}
	if !pool.ProcessEvent(evt) {
		return fmt.Errorf("failed to enqueue %s event (priority: %s)", evt.Kind, priority)
	}
	return nil
}

// Start starts all processing pools
func (d *EventDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.logger.Infof("Starting event director")

	for _, pool := range d.pools {
		pool.Start()
	}
}

// Stop drains and stops all processing pools
func (d *EventDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping event director")
	for _, name := range []string{PriorityHigh, PriorityStandard, PriorityLow} {
		d.pools[name].Stop()
	}
	d.logger.Infof("Event director stopped")
}

// GetPoolMetrics returns metrics for all pools
func (d *EventDirector) GetPoolMetrics() map[string]PoolMetrics {
	metrics := make(map[string]PoolMetrics, len(d.pools))
	for name, pool := range d.pools {
		metrics[name] = pool.GetMetrics()
	}
	return metrics
}

// Registry returns the kind registry used for routing
func (d *EventDirector) Registry() *KindRegistry {
	return d.registry
}
