package processing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds emitted while a run is in progress.
const (
	KindRunStarted   = "run.started"
	KindRunFinished  = "run.finished"
	KindStepStarted  = "step.started"
	KindStepFinished = "step.finished"
	KindParticle     = "pour.particle"
	KindSample       = "datagen.sample"
)

// TopicPrefix is prepended to the event kind to form the publish topic.
const TopicPrefix = "sim.progress."

// Event is a progress notification produced by the simulation thread.
type Event struct {
	Seq       uint64
	Kind      string
	RunID     string
	Timestamp int64
	Data      map[string]interface{}
}

// Topic returns the publish topic for the event.
func (e *Event) Topic() string {
	return TopicPrefix + e.Kind
}

// Envelope is the JSON document published for every event
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Seq       uint64      `json:"seq"`
	RunID     string      `json:"run_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// GetCurrentTimestamp gets the current timestamp in nanoseconds
func GetCurrentTimestamp() int64 {
	return time.Now().UnixNano()
}

// EncodeEvent renders an event as its JSON envelope.
func EncodeEvent(evt *Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("nil event")
	}
	if evt.Kind == "" {
		return nil, fmt.Errorf("event %d has no kind", evt.Seq)
	}
	env := Envelope{
		Type:      evt.Kind,
		Timestamp: float64(evt.Timestamp) / float64(time.Second),
		Seq:       evt.Seq,
		RunID:     evt.RunID,
		Data:      evt.Data,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", evt.Kind, err)
	}
	return data, nil
}
