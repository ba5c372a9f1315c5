package cluster

import (
	"context"
	"errors"
	"fmt"
)

// ErrServiceStopped is returned for tasks submitted to a stopped service.
var ErrServiceStopped = errors.New("cluster service is stopped")

// TooManyPendingTasksError is returned when a throttled key already has
// its maximum number of pending state update tasks.
type TooManyPendingTasksError struct {
	Key     string
	Pending int
	Limit   int
}

func (e *TooManyPendingTasksError) Error() string {
	return fmt.Sprintf("too many pending cluster state update tasks for throttling key [%s] (pending: %d, limit: %d)", e.Key, e.Pending, e.Limit)
}

// ChangedEvent describes one committed transition of the cluster state.
type ChangedEvent struct {
	State         State
	PreviousState State
}

// StateApplier receives committed state transitions. Appliers run on the
// state update goroutine: they must not block, and they handle their own
// failures rather than propagating them.
type StateApplier interface {
	ApplyClusterState(event ChangedEvent)
}

// StateApplierFunc adapts a function to the StateApplier interface.
type StateApplierFunc func(event ChangedEvent)

func (f StateApplierFunc) ApplyClusterState(event ChangedEvent) {
	f(event)
}

// ThrottlingKey identifies a class of state update tasks for admission
// control. Obtain one from Service.RegisterThrottlingKey.
type ThrottlingKey struct {
	name      string
	throttled bool
}

// Name returns the registered name of the key.
func (k ThrottlingKey) Name() string {
	return k.name
}

// Service is the cluster coordination surface feature services consume.
type Service interface {
	// State returns the most recently committed cluster state.
	State() State

	// AddStateApplier registers an applier invoked for every committed
	// transition, including the recovery transition.
	AddStateApplier(applier StateApplier)

	// RegisterThrottlingKey declares a class of state update tasks.
	// When throttled is true the service bounds the number of tasks of
	// that class pending at once.
	RegisterThrottlingKey(name string, throttled bool) ThrottlingKey

	// SubmitStateUpdateTask schedules update to run against the latest
	// state. The function must treat its input as immutable and return
	// a modified copy; returning an equal state commits nothing. The
	// call returns once the update is committed locally, update failed,
	// or ctx ended; a context ended after submission abandons the wait
	// but not the task.
	SubmitStateUpdateTask(ctx context.Context, source string, key ThrottlingKey, update func(State) (State, error)) error

	// LocalNode describes this process.
	LocalNode() Node
}
