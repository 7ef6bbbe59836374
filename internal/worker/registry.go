package worker

import "sync"

// =============================================================================
// TASK REGISTRY
// =============================================================================
// Live extractors register themselves for the duration of a run so that
// pause/resume/cancel requests arriving over the API can reach them. The
// registry holds no history; a finished task disappears from it and only the
// processing_tasks row remains.

// Registry tracks the extractors currently running in this process.
type Registry struct {
	mu   sync.RWMutex
	live map[string]*Extractor
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Extractor)}
}

// Register makes the extractor reachable under its task id.
func (r *Registry) Register(taskID string, ext *Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[taskID] = ext
}

// Get returns the live extractor for the task, or nil when none is running.
func (r *Registry) Get(taskID string) *Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live[taskID]
}

// Unregister removes the task. Safe to call for ids never registered.
func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, taskID)
}

// ActiveTasks returns the ids of all live tasks.
func (r *Registry) ActiveTasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	return ids
}
