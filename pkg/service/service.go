// Package service defines the lifecycle contract every pipeline service
// implements and a base type carrying the bus/executor plumbing they all
// share.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/executor"
)

// Service is one unit of the runtime supervised by the host. Lifecycle
// states progress constructed → async-initialized → started → stopped.
// Subscriptions are set up in InitAsync so every service is wired before
// the first message flows; Start begins producing traffic.
type Service interface {
	Name() string
	InitAsync(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Base carries the shared plumbing for a service: its instance id, the bus,
// and the executor. Embed it and implement the lifecycle methods.
type Base struct {
	ID   string
	Bus  *bus.Bus
	Exec *executor.Executor
}

// NewBase creates the shared service plumbing.
func NewBase(b *bus.Bus, exec *executor.Executor) Base {
	return Base{ID: uuid.NewString(), Bus: b, Exec: exec}
}

// Subscribe registers a bus handler. Handlers run on the bus goroutine and
// must hand long work to RunTask instead of blocking.
func (b *Base) Subscribe(topic string, handler bus.Handler) {
	b.Bus.Subscribe(topic, handler)
}

// PublishAsync sends a message to every subscriber of the topic.
func (b *Base) PublishAsync(topic string, payload map[string]any) {
	b.Bus.PublishAsync(topic, payload)
}

// RunTask schedules one task on the executor.
func (b *Base) RunTask(name string, task executor.Task) *executor.Future {
	return b.Exec.RunTask(name, task)
}

// RunTasks gathers a group of tasks; results are keyed by task name.
func (b *Base) RunTasks(tasks []executor.NamedTask) *executor.Future {
	return b.Exec.RunTasks(tasks)
}

// RunBackground schedules fire-and-forget work.
func (b *Base) RunBackground(name string, task executor.Task) {
	b.Exec.RunBackground(name, task)
}
