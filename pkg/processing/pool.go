package processing

import (
	"sync"
	"time"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// ProcessResult is the result of processing an event
type ProcessResult struct {
	Topic     string
	Kind      string
	Payload   []byte
	Timestamp int64
	Error     error
}

// ResultHandler is a function that handles processed results
type ResultHandler func(result *ProcessResult)

// EventProcessor turns an event into the bytes handed to the result handler
type EventProcessor func(evt *Event) ([]byte, error)

// ProcessingPool is a bounded worker pool. Enqueueing never blocks; events
// arriving while the queue is full are dropped and counted.
type ProcessingPool struct {
	name          string
	workerCount   int
	logger        customlog.Logger
	eventQueue    chan *Event
	running       bool
	stopped       bool
	wg            sync.WaitGroup
	mu            sync.Mutex
	processor     EventProcessor
	resultHandler ResultHandler
	queueSize     int
	metrics       *PoolMetrics
}

// PoolMetrics tracks metrics for a processing pool
type PoolMetrics struct {
	ProcessedCount    int64 `json:"processed"`
	ErrorCount        int64 `json:"errors"`
	QueuedCount       int64 `json:"queued"`
	DroppedCount      int64 `json:"dropped"`
	LastProcessedTime int64 `json:"last_processed_ns"`
	ProcessingTimeAvg int64 `json:"avg_us"` // in microseconds
	ProcessingTimeMax int64 `json:"max_us"` // in microseconds
	mu                sync.Mutex
}

// NewProcessingPool creates a new processing pool
func NewProcessingPool(
	name string,
	workerCount int,
	queueSize int,
	logger customlog.Logger,
) *ProcessingPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &ProcessingPool{
		name:        name,
		workerCount: workerCount,
		queueSize:   queueSize,
		logger:      logger,
		eventQueue:  make(chan *Event, queueSize),
		metrics:     &PoolMetrics{},
	}
}

// SetProcessor sets the event processor function
func (p *ProcessingPool) SetProcessor(processor EventProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// SetResultHandler sets the result handler function
func (p *ProcessingPool) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// ProcessEvent adds an event to the queue. It returns false when the pool
// is not running or the queue is full.
func (p *ProcessingPool) ProcessEvent(evt *Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warnf("%s pool not running, discarding %s event", p.name, evt.Kind)
		return false
	}

	select {
	case p.eventQueue <- evt:
		p.metrics.mu.Lock()
		p.metrics.QueuedCount++
		p.metrics.mu.Unlock()
		return true
	default:
		p.metrics.mu.Lock()
		p.metrics.DroppedCount++
		p.metrics.mu.Unlock()
		p.logger.Warnf("%s pool queue is full, discarding %s event", p.name, evt.Kind)
		return false
	}
}

// Start starts the processing pool workers. A stopped pool cannot be restarted.
func (p *ProcessingPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return
	}

	p.running = true
	p.logger.Infof("Starting %s priority pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue and waits for the workers to exit
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	// Closing under the lock keeps ProcessEvent from sending on a closed channel.
	close(p.eventQueue)
	p.mu.Unlock()

	p.logger.Infof("Stopping %s priority pool", p.name)

	p.wg.Wait()
	p.logger.Infof("%s priority pool stopped", p.name)

	p.logMetrics()
}

// worker processes events from the queue
func (p *ProcessingPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for evt := range p.eventQueue {
		p.mu.Lock()
		processor := p.processor
		resultHandler := p.resultHandler
		p.mu.Unlock()

		if processor == nil {
			p.logger.Errorf("No event processor set for %s pool", p.name)
			continue
		}

		startTime := time.Now()
		payload, err := processor(evt)
		processingTime := time.Since(startTime).Microseconds()

		p.metrics.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}
		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}
		if err != nil {
			p.metrics.ErrorCount++
		}
		p.metrics.mu.Unlock()

		if err != nil {
			p.logger.Errorf("Error processing %s event in %s pool: %v", evt.Kind, p.name, err)
		}

		if resultHandler != nil {
			resultHandler(&ProcessResult{
				Topic:     evt.Topic(),
				Kind:      evt.Kind,
				Payload:   payload,
				Timestamp: evt.Timestamp,
				Error:     err,
			})
		}
	}

	p.logger.Debugf("%s pool worker %d stopped", p.name, id)
}

// GetMetrics returns a copy of the current metrics
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	return PoolMetrics{
		ProcessedCount:    p.metrics.ProcessedCount,
		ErrorCount:        p.metrics.ErrorCount,
		QueuedCount:       p.metrics.QueuedCount,
		DroppedCount:      p.metrics.DroppedCount,
		LastProcessedTime: p.metrics.LastProcessedTime,
		ProcessingTimeAvg: p.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: p.metrics.ProcessingTimeMax,
	}
}

func (p *ProcessingPool) logMetrics() {
	metrics := p.GetMetrics()

	p.logger.Infof("%s pool metrics: processed=%d, dropped=%d, errors=%d, avg_time=%dµs, max_time=%dµs",
		p.name, metrics.ProcessedCount, metrics.DroppedCount, metrics.ErrorCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetName returns the pool name
func (p *ProcessingPool) GetName() string {
	return p.name
}

// GetQueueLength returns the current length of the event queue
func (p *ProcessingPool) GetQueueLength() int {
	return len(p.eventQueue)
}

// GetQueueCapacity returns the capacity of the event queue
func (p *ProcessingPool) GetQueueCapacity() int {
	return p.queueSize
}
