package processing

import (
	"sort"
	"sync"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// KindInfo holds routing metadata and counters for one event kind
type KindInfo struct {
	Kind          string `json:"kind"`
	Topic         string `json:"topic"`
	Priority      string `json:"priority"`
	Count         int64  `json:"count"`
	LastPublished int64  `json:"last_published_ns"`
}

// KindRegistry maps event kinds to dispatch priorities
type KindRegistry struct {
	logger customlog.Logger
	kinds  map[string]*KindInfo
	mu     sync.RWMutex
}

// DefaultPriorities routes run lifecycle events ahead of step and sample
// events, and pour particles last.
func DefaultPriorities() map[string]string {
	return map[string]string{
		KindRunStarted:   PriorityHigh,
		KindRunFinished:  PriorityHigh,
		KindStepStarted:  PriorityStandard,
		KindStepFinished: PriorityStandard,
		KindSample:       PriorityStandard,
		KindParticle:     PriorityLow,
	}
}

// NewKindRegistry creates a registry seeded with DefaultPriorities
func NewKindRegistry(logger customlog.Logger) *KindRegistry {
	r := &KindRegistry{
		logger: logger,
		kinds:  make(map[string]*KindInfo),
	}
	for kind, priority := range DefaultPriorities() {
		r.kinds[kind] = &KindInfo{Kind: kind, Topic: TopicPrefix + kind, Priority: priority}
	}
	return r
}

// LoadOverrides replaces the priority of the given kinds. Unknown priority
// names are logged and skipped.
func (r *KindRegistry) LoadOverrides(priorities map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, priority := range priorities {
		if !validPriority(priority) {
			r.logger.Warnf("Ignoring priority %q for event kind '%s'", priority, kind)
			continue
		}
		info, ok := r.kinds[kind]
		if !ok {
			info = &KindInfo{Kind: kind, Topic: TopicPrefix + kind}
			r.kinds[kind] = info
		}
		info.Priority = priority
	}
	r.logger.Debugf("Event kind registry holds %d kinds", len(r.kinds))
}

// GetPriority gets the priority for a kind
func (r *KindRegistry) GetPriority(kind string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.kinds[kind]
	if !exists {
		return "", false
	}
	return info.Priority, true
}

// UpdateStats counts a dispatched event, registering unknown kinds at
// STANDARD priority.
func (r *KindRegistry) UpdateStats(kind string, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.kinds[kind]
	if !exists {
		info = &KindInfo{Kind: kind, Topic: TopicPrefix + kind, Priority: PriorityStandard}
		r.kinds[kind] = info
	}
	info.Count++
	info.LastPublished = timestamp
}

// Snapshot returns a copy of every kind, sorted by name
func (r *KindRegistry) Snapshot() []KindInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]KindInfo, 0, len(r.kinds))
	for _, info := range r.kinds {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func validPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityStandard, PriorityLow:
		return true
	}
	return false
}
