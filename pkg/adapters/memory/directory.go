package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Directory implements ports.TaskDirectory in memory.
// Safe for concurrent use.
type Directory struct {
	tasks map[domain.TaskKey]domain.Participants
	mu    sync.RWMutex
}

// NewDirectory creates a directory preloaded with tasks.
func NewDirectory(tasks map[domain.TaskKey]domain.Participants) *Directory {
	d := &Directory{tasks: make(map[domain.TaskKey]domain.Participants, len(tasks))}
	for k, p := range tasks {
		d.tasks[k] = p
	}
	return d
}

// Define binds the participants of a task, replacing any earlier binding.
func (d *Directory) Define(key domain.TaskKey, p domain.Participants) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks[key] = p
}

// DefineProcess binds the same task roles for every listed instance.
func (d *Directory) DefineProcess(instances []uint64, roles map[string]domain.Participants) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range instances {
		for task, p := range roles {
			d.tasks[domain.TaskKey{InstanceID: id, TaskName: task}] = p
		}
	}
}

// Participants returns the roles bound to a task.
func (d *Directory) Participants(ctx context.Context, key domain.TaskKey) (domain.Participants, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.tasks[key]
	if !ok {
		return domain.Participants{}, fmt.Errorf("%w: %s", domain.ErrUnknownTask, key)
	}
	return p, nil
}
