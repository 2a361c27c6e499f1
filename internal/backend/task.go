package backend

import "fmt"

// TaskFunc is the single function type every registered task is a value
// of. args/kw mirror the wire envelope's positional and keyword argument
// slots; the return value is either a JSON-serializable result or a
// TaskError describing a structured failure.
type TaskFunc func(args []any, kw map[string]any) (any, error)

// TaskEntry replaces the reference implementation's heterogeneous
// "callable | (callable, bool)" registry value with an explicit two-case
// type: Plain tasks are called as-is, PassBackend tasks have the backend
// handle prepended to their positional arguments.
type TaskEntry struct {
	Fn          TaskFunc
	PassBackend bool
}

// Plain registers fn as a task that does not receive the backend handle.
func Plain(fn TaskFunc) TaskEntry {
	return TaskEntry{Fn: fn}
}

// WithBackend registers fn as a task that receives the backend handle
// as its first positional argument.
func WithBackend(fn TaskFunc) TaskEntry {
	return TaskEntry{Fn: fn, PassBackend: true}
}

// TaskError is the structured failure a task function returns instead of
// a bare error, when it wants to control the wire-level error name and
// argument list the frontend will see. A task that returns a plain error
// instead still produces an error envelope on the wire, under the fixed
// name "GoError" with the error message as its sole argument (see
// errorEnvelopeFromErr in backend.go).
type TaskError struct {
	Name string
	Args []any
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s%v", e.Name, e.Args)
}

// NewTaskError builds a TaskError with the given wire name and argument
// list.
func NewTaskError(name string, args ...any) *TaskError {
	return &TaskError{Name: name, Args: args}
}
