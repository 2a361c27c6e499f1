package frontend

import (
	"errors"
	"fmt"
)

// ErrBackendsNotAvailable is returned by Work when every registered
// backend failed with a connection-level error.
var ErrBackendsNotAvailable = errors.New("frontend: no backend was available to service the task")

// ErrNoSuchBackend is returned by SendStop/SendKill/GetTasks when addr
// is not a registered backend.
var ErrNoSuchBackend = errors.New("frontend: no such backend")

// ErrWaitTimeout re-exports resync.ErrWaitTimeout's meaning for callers
// that only import frontend; Work itself never returns it directly, but
// code built on top of Callback/Mediator-based helpers may.
var ErrWaitTimeout = errors.New("frontend: wait timed out")

// BackendProcessingError is raised when a backend's response envelope
// was an error envelope: a task on the backend failed, and its error
// name and argument list are reported faithfully to the caller.
type BackendProcessingError struct {
	Type string
	Args []any
}

func (e *BackendProcessingError) Error() string {
	return fmt.Sprintf("frontend: backend task failed: %s%v", e.Type, e.Args)
}

// dropError is the sentinel value passed as an error callback to
// Callback/Ignore to mean "silently discard errors", matching the
// reference implementation's error_cb=False convention without
// overloading Go's nil.
type dropError struct{}

// DropError is the error-callback sentinel meaning "ignore errors
// silently". Compare with ==.
var DropError ErrorCallback = dropError{}

// ErrorCallback is invoked with a task failure. DropError silently
// discards it; a nil ErrorCallback means "log and move on".
type ErrorCallback interface {
	onError(err *BackendProcessingError)
}

func (dropError) onError(*BackendProcessingError) {}

// Func adapts a plain function to ErrorCallback.
type Func func(err *BackendProcessingError)

func (f Func) onError(err *BackendProcessingError) { f(err) }
