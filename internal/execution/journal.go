package execution

import (
	"sync"

	"github.com/google/uuid"
)

// Journal is an in-memory, concurrency-safe record of completed
// executions. Durable persistence belongs to an external collaborator;
// this exists so a host process can audit recent executions.
type Journal struct {
	mu      sync.RWMutex
	results map[uuid.UUID]AtomicExecutionResult
	order   []uuid.UUID
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{results: make(map[uuid.UUID]AtomicExecutionResult)}
}

// Record stores one execution's final result.
func (j *Journal) Record(res AtomicExecutionResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, seen := j.results[res.ExecutionID]; !seen {
		j.order = append(j.order, res.ExecutionID)
	}
	j.results[res.ExecutionID] = res
}

// Get looks up one execution by id.
func (j *Journal) Get(id uuid.UUID) (AtomicExecutionResult, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	res, ok := j.results[id]
	return res, ok
}

// List returns all recorded results in completion order.
func (j *Journal) List() []AtomicExecutionResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]AtomicExecutionResult, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.results[id])
	}
	return out
}
