package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// cancelRegistry maps an entity ID to the cancel function of its in-flight
// run. Cancellation is cooperative: the worker observes the cancelled context
// between batches, never mid-write.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

func (r *cancelRegistry) register(id uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *cancelRegistry) unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

// cancel fires the registered cancel function. Reports whether a run was
// actually in flight.
func (r *cancelRegistry) cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[id]
	if ok {
		cancel()
	}
	return ok
}
