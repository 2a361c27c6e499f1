// Package backend implements TaskIt's backend server: the accept loop,
// per-connection handler dispatch, the in-flight task counter that
// graceful shutdown depends on, and the reserved admin tasks
// <stop>/<kill>/<status>.
package backend

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pydsigner/taskit/internal/adminhttp"
	"github.com/pydsigner/taskit/internal/audit"
	"github.com/pydsigner/taskit/internal/codec"
	"github.com/pydsigner/taskit/internal/frame"
	"github.com/pydsigner/taskit/internal/tlog"
)

// Reserved admin task names. Registered like ordinary tasks; the wire
// protocol never distinguishes them from user tasks.
const (
	Stop   = "<stop>"
	Kill   = "<kill>"
	Status = "<status>"
)

// state is the backend's lifecycle: running -> stopping -> terminating
// -> stopped, exactly as spec.md describes it.
type state int32

const (
	stateRunning state = iota
	stateStopping
	stateTerminating
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateTerminating:
		return "terminating"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config configures a Backend. Host/Port name the TCP listen address;
// EndResp is the accept-loop responsiveness tick (and the graceful-drain
// polling interval), defaulting to 500ms.
type Config struct {
	Host     string
	Port     int
	Logger   tlog.Logger
	Codec    codec.Codec
	EndResp  time.Duration
	DataSize int
	Audit    audit.Store
}

// Backend hosts a registry of named tasks over the First-Bytes TCP
// protocol.
type Backend struct {
	host    string
	port    int
	log     tlog.Logger
	codec   codec.Codec
	endResp time.Duration
	framer  *frame.Framer
	audit   audit.Store

	tasksMu sync.RWMutex
	tasks   map[string]TaskEntry

	mu       sync.Mutex
	inFlight int

	stateMu sync.Mutex
	st      state

	ln net.Listener

	metrics *metrics
}

// New constructs a Backend from cfg and the initial task registry. The
// admin tasks are merged in automatically.
func New(cfg Config, tasks map[string]TaskEntry) (*Backend, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = tlog.Null
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.EndResp == 0 {
		cfg.EndResp = 500 * time.Millisecond
	}
	fr, err := frame.New(cfg.DataSize)
	if err != nil {
		return nil, err
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Noop{}
	}

	b := &Backend{
		host:    cfg.Host,
		port:    cfg.Port,
		log:     cfg.Logger,
		codec:   cfg.Codec,
		endResp: cfg.EndResp,
		framer:  fr,
		audit:   cfg.Audit,
		tasks:   make(map[string]TaskEntry, len(tasks)+3),
		st:      stateRunning,
		metrics: newMetrics(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
	}
	for name, entry := range tasks {
		b.tasks[name] = entry
	}
	b.AddTasks(b.adminTasks())
	return b, nil
}

// DefaultPort is TaskIt's well-known TCP port.
const DefaultPort = 54543

// AddTasks merges additional tasks into the registry. Per spec.md §9's
// resolution of the reference implementation's open question, this is
// not synchronized against in-flight dispatch and is intended to be
// called before Serve runs; the registry map itself is still guarded by
// a RWMutex so concurrent reads during dispatch never race with a
// same-time AddTasks call, even though the two are not ordered against
// each other.
func (b *Backend) AddTasks(tasks map[string]TaskEntry) {
	b.tasksMu.Lock()
	defer b.tasksMu.Unlock()
	for name, entry := range tasks {
		b.tasks[name] = entry
	}
}

func (b *Backend) adminTasks() map[string]TaskEntry {
	return map[string]TaskEntry{
		Stop: WithBackend(func(args []any, kw map[string]any) (any, error) {
			bk := args[0].(*Backend)
			go bk.stopServer()
			return nil, nil
		}),
		Kill: WithBackend(func(args []any, kw map[string]any) (any, error) {
			bk := args[0].(*Backend)
			go bk.terminateServer()
			return nil, nil
		}),
		Status: WithBackend(func(args []any, kw map[string]any) (any, error) {
			bk := args[0].(*Backend)
			return strconv.Itoa(bk.InFlight()), nil
		}),
	}
}

// InFlight returns the number of handlers that have begun but not yet
// completed task execution.
func (b *Backend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Status implements adminhttp.StatusSource for a single backend: a
// one-entry map keyed on its own listen address, since a backend has no
// notion of peer backends the way a FrontEnd does.
func (b *Backend) Status() map[string]adminhttp.BackendStatus {
	addr := fmt.Sprintf("%s:%d", b.host, b.port)
	return map[string]adminhttp.BackendStatus{
		addr: {
			Addr:     addr,
			InFlight: b.InFlight(),
			Lifetime: 0,
			Breaker:  b.getState().String(),
		},
	}
}

func (b *Backend) startedJob() {
	b.mu.Lock()
	b.inFlight++
	n := b.inFlight
	b.mu.Unlock()
	b.metrics.inFlight.Set(float64(n))
}

// finishedJob decrements the in-flight counter. Every startedJob call
// must be paired with exactly one finishedJob call -- including on the
// error path -- or the graceful-drain wait in stopServer strands
// forever.
func (b *Backend) finishedJob() {
	b.mu.Lock()
	b.inFlight--
	n := b.inFlight
	b.mu.Unlock()
	b.metrics.inFlight.Set(float64(n))
}

// Subtask lets a task that itself spawns worker goroutines keep the
// in-flight counter balanced across that handoff: call it before the
// spawned goroutine's own deferred cleanup runs finishedJob a second
// time for the same logical unit of work.
func (b *Backend) Subtask() func() {
	b.startedJob()
	var once sync.Once
	return func() { once.Do(b.finishedJob) }
}

func (b *Backend) setState(s state) {
	b.stateMu.Lock()
	b.st = s
	b.stateMu.Unlock()
}

func (b *Backend) getState() state {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.st
}

// stopServer implements graceful shutdown: flip to "stopping" (which
// ends the accept loop), wait for in-flight handlers to drain, then
// terminate. The <stop> task launches it on its own goroutine so the
// handler can reply without waiting for the drain; admin tasks are not
// counted in inFlight, so the drain does not wait on the <stop> request.
func (b *Backend) stopServer() {
	b.setState(stateStopping)
	b.log.Log(tlog.IMPORTANT, "backend: graceful stop requested")
	for b.InFlight() > 0 {
		time.Sleep(b.endResp)
	}
	b.setState(stateTerminating)
}

// terminateServer implements the hard-kill path: flip to "terminating"
// immediately, without waiting for inFlight to reach zero. The accept
// loop then exits; Serve still waits for handlers already running to
// return before it closes the socket.
func (b *Backend) terminateServer() {
	b.log.Log(tlog.IMPORTANT, "backend: hard kill requested")
	b.setState(stateTerminating)
}

// Serve binds the listen socket and runs the accept loop until the
// server is stopped or killed, then closes the socket. It blocks until
// shutdown completes.
func (b *Backend) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", b.host, b.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("backend: listen %s: %w", addr, err)
	}
	b.ln = ln
	defer b.shutdown()

	b.log.Log(tlog.IMPORTANT, "backend: listening", zap.String("addr", addr))

	// ctx cancellation (process shutdown signal, test teardown) drives
	// the same graceful stopServer path as the <stop> admin task, so an
	// external caller gets the same drain-then-terminate guarantee.
	go func() {
		<-ctx.Done()
		b.stopServer()
	}()

	var g errgroup.Group

	for b.getState() == stateRunning {
		if err := ln.SetDeadline(time.Now().Add(b.endResp)); err != nil {
			return fmt.Errorf("backend: set accept deadline: %w", err)
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if b.getState() != stateRunning {
				break
			}
			continue
		}
		g.Go(func() error {
			b.handle(conn)
			return nil
		})
	}

	// Drain: wait for in-flight handlers to finish (stopServer has
	// already been doing this if we got here via <stop>; this also
	// covers the case where the server is stopped some other way).
	for b.getState() != stateTerminating && b.getState() != stateStopped {
		time.Sleep(b.endResp)
	}
	_ = g.Wait()
	b.setState(stateStopped)
	return nil
}

func (b *Backend) shutdown() {
	if b.ln != nil {
		_ = b.ln.Close()
	}
}

// handle services exactly one request on conn: decode, dispatch,
// encode, reply, and unconditionally clean up.
func (b *Backend) handle(conn net.Conn) {
	reqID := xid.New().String()
	start := time.Now()

	req, err := b.framer.Recv(conn)
	if err != nil {
		b.log.Log(tlog.ERROR, "backend: frame recv failed", zap.String("req", reqID), zap.Error(err))
		_ = conn.Close()
		return
	}
	b.log.Log(tlog.DEBUG, "backend: received request", zap.String("req", reqID), zap.ByteString("bytes", req))

	var envelope []any
	if err := b.codec.Decode(req, &envelope); err != nil || len(envelope) != 3 {
		b.log.Log(tlog.ERROR, "backend: malformed request envelope", zap.String("req", reqID))
		b.reply(conn, reqID, errorEnvelope("MalformedRequest", "request envelope must be [task, args, kwargs]"))
		_ = conn.Close()
		return
	}

	taskName, _ := envelope[0].(string)
	args := asSlice(envelope[1])
	kw := asMap(envelope[2])

	defer func() {
		_ = conn.Close()
	}()

	entry, ok := b.lookup(taskName)
	if !ok {
		b.log.Log(tlog.ERROR, "backend: unknown task", zap.String("req", reqID), zap.String("task", taskName))
		b.reply(conn, reqID, errorEnvelope("UnknownTask", taskName))
		b.metrics.tasksFailed.Inc()
		b.recordAudit(taskName, start, false)
		return
	}

	// Admin signals (<stop>/<kill>/<status>) are not counted against the
	// in-flight gauge: <status> reports the count of ordinary task
	// handlers, not itself, and <stop>'s drain wait must not wait on its
	// own request to finish.
	if !isAdminTask(taskName) {
		b.startedJob()
		b.metrics.tasksStarted.Inc()
		defer b.finishedJob()
	}

	if entry.PassBackend {
		args = append([]any{b}, args...)
	}

	b.log.Log(tlog.INFO, "backend: fulfilling task", zap.String("req", reqID), zap.String("task", taskName))
	result, callErr := b.invoke(entry.Fn, args, kw)
	b.metrics.taskDuration.Observe(time.Since(start).Seconds())

	if callErr != nil {
		b.log.Log(tlog.ERROR, "backend: task failed", zap.String("req", reqID), zap.String("task", taskName), zap.Error(callErr))
		b.metrics.tasksFailed.Inc()
		b.reply(conn, reqID, errorEnvelopeFromErr(callErr))
		b.recordAudit(taskName, start, false)
		return
	}

	b.log.Log(tlog.INFO, "backend: finished task", zap.String("req", reqID), zap.String("task", taskName))
	b.metrics.tasksCompleted.Inc()
	b.reply(conn, reqID, []any{"success", result})
	b.recordAudit(taskName, start, true)
}

// invoke calls fn, recovering a panic into a TaskError so the deferred
// job-count decrement and connection close in handle always run.
func (b *Backend) invoke(fn TaskFunc, args []any, kw map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(args, kw)
}

func isAdminTask(name string) bool {
	switch name {
	case Stop, Kill, Status:
		return true
	default:
		return false
	}
}

func (b *Backend) lookup(name string) (TaskEntry, bool) {
	b.tasksMu.RLock()
	defer b.tasksMu.RUnlock()
	entry, ok := b.tasks[name]
	return entry, ok
}

func (b *Backend) reply(conn net.Conn, reqID string, envelope []any) {
	enc, err := b.codec.Encode(envelope)
	if err != nil {
		b.log.Log(tlog.ERROR, "backend: failed to encode response", zap.String("req", reqID), zap.Error(err))
		return
	}
	if err := b.framer.Send(conn, enc); err != nil {
		b.log.Log(tlog.ERROR, "backend: frame send failed", zap.String("req", reqID), zap.Error(err))
	}
}

func (b *Backend) recordAudit(task string, start time.Time, success bool) {
	b.audit.Record(context.Background(), audit.Entry{
		Task:      task,
		Backend:   fmt.Sprintf("%s:%d", b.host, b.port),
		Success:   success,
		Duration:  time.Since(start),
		Timestamp: start,
	})
}

func errorEnvelope(name string, args ...any) []any {
	return []any{"error", name, args}
}

// errorEnvelopeFromErr builds the wire error envelope for a task
// failure. A *TaskError carries its own wire name and argument list; any
// other error is reported under a stable "GoError" name with its
// message as the sole argument, since a bare error has no language-
// neutral class name to surface.
func errorEnvelopeFromErr(err error) []any {
	if te, ok := err.(*TaskError); ok {
		return []any{"error", te.Name, te.Args}
	}
	return []any{"error", "GoError", []any{err.Error()}}
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
