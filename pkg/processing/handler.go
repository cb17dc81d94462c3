package processing

import (
	"sync"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// LoggingResultHandler logs processed events and forwards them to every
// registered publisher.
type LoggingResultHandler struct {
	logger     customlog.Logger
	publishers []MessagePublisher
	mu         sync.RWMutex
}

// NewLoggingResultHandler creates a new logging result handler
func NewLoggingResultHandler(logger customlog.Logger, publishers ...MessagePublisher) *LoggingResultHandler {
	h := &LoggingResultHandler{logger: logger}
	for _, p := range publishers {
		h.AddPublisher(p)
	}
	return h
}

// AddPublisher registers another sink. Nil publishers are ignored.
func (h *LoggingResultHandler) AddPublisher(p MessagePublisher) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishers = append(h.publishers, p)
}

// HandleResult handles a processed event
func (h *LoggingResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		h.logger.Errorf("Error processing event for topic '%s': %v", result.Topic, result.Error)
		return
	}

	if len(result.Payload) > 100 {
		h.logger.Debugf("Event %s: %s...", result.Topic, string(result.Payload[:100]))
	} else {
		h.logger.Debugf("Event %s: %s", result.Topic, string(result.Payload))
	}

	h.mu.RLock()
	publishers := h.publishers
	h.mu.RUnlock()

	for _, p := range publishers {
		if err := p.PublishMessage(result.Topic, result.Payload); err != nil {
			h.logger.Errorf("Failed to publish event for topic '%s': %v", result.Topic, err)
		}
	}
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *LoggingResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
