package runner

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Task is one sync loop driven on a schedule.
type Task interface {
	// Name identifies the task in logs and for RunOnce.
	Name() string

	// Schedule is a cron expression with seconds, or a descriptor such as "@every 30s".
	Schedule() string

	// Run performs one pass.
	Run(ctx context.Context) error

	// Timeout bounds a single pass.
	Timeout() time.Duration
}

// TaskRegistry holds the tasks a Runner drives.
type TaskRegistry struct {
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]Task),
	}
}

// Register adds task. Names must be unique.
func (r *TaskRegistry) Register(task Task) error {
	if task == nil {
		return fmt.Errorf("runner: nil task")
	}
	if _, exists := r.tasks[task.Name()]; exists {
		return fmt.Errorf("runner: task %q already registered", task.Name())
	}
	r.tasks[task.Name()] = task
	return nil
}

// Get returns a task by name
func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, exists := r.tasks[name]
	return task, exists
}

// All returns all registered tasks
func (r *TaskRegistry) All() map[string]Task {
	return r.tasks
}

// Names returns the registered task names in order.
func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
