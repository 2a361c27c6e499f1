// Package frontend implements TaskIt's client: a registered pool of
// backends with least-loaded selection and failover, synchronous Work,
// asynchronous Callback/Ignore, and administrative signal transmission.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pydsigner/taskit/internal/adminhttp"
	"github.com/pydsigner/taskit/internal/codec"
	"github.com/pydsigner/taskit/internal/frame"
	"github.com/pydsigner/taskit/internal/netkit"
	"github.com/pydsigner/taskit/internal/tlog"
)

// DefaultPort is TaskIt's well-known TCP port.
const DefaultPort = 54543

// Config configures a FrontEnd.
type Config struct {
	DefaultPort int
	Logger      tlog.Logger
	Codec       codec.Codec
	DataSize    int
	DialTimeout time.Duration
	// ErrorCacheSize bounds the recent-error dedup cache; 0 disables
	// dedup (every error is logged).
	ErrorCacheSize int
}

type backendState struct {
	inFlight int
	lifetime int
	breaker  *gobreaker.CircuitBreaker
}

// FrontEnd maintains a registry of backends and dispatches tasks to them.
type FrontEnd struct {
	defaultPort int
	log         tlog.Logger
	codec       codec.Codec
	framer      *frame.Framer
	dialTimeout time.Duration
	dialer      *netkit.Dialer
	metrics     *metrics

	mu       sync.Mutex
	backends map[Addr]*backendState

	errCache *lru.Cache // may be nil
}

// New builds a FrontEnd and registers the given backends.
func New(cfg Config, backends ...Backend) (*FrontEnd, error) {
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = tlog.Null
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	fr, err := frame.New(cfg.DataSize)
	if err != nil {
		return nil, err
	}

	var errCache *lru.Cache
	if cfg.ErrorCacheSize > 0 {
		errCache, err = lru.New(cfg.ErrorCacheSize)
		if err != nil {
			return nil, fmt.Errorf("frontend: build error cache: %w", err)
		}
	}

	dialerCfg := netkit.DefaultConfig()
	dialerCfg.Timeout = cfg.DialTimeout

	f := &FrontEnd{
		defaultPort: cfg.DefaultPort,
		log:         cfg.Logger,
		codec:       cfg.Codec,
		framer:      fr,
		dialTimeout: cfg.DialTimeout,
		dialer:      netkit.NewDialer(dialerCfg, nil),
		metrics:     newMetrics(),
		backends:    make(map[Addr]*backendState),
		errCache:    errCache,
	}
	f.AddBackends(backends...)
	return f, nil
}

// Registry exposes the frontend's private Prometheus registry, for
// wiring into an internal/adminhttp /metrics route.
func (f *FrontEnd) Registry() *prometheus.Registry {
	return f.metrics.registry
}

// Status implements adminhttp.StatusSource: a point-in-time snapshot of
// every registered backend's load and breaker state.
func (f *FrontEnd) Status() map[string]adminhttp.BackendStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]adminhttp.BackendStatus, len(f.backends))
	for addr, st := range f.backends {
		out[addr.String()] = adminhttp.BackendStatus{
			Addr:     addr.String(),
			InFlight: st.inFlight,
			Lifetime: st.lifetime,
			Breaker:  st.breaker.State().String(),
		}
	}
	return out
}

// AddBackends registers additional backends, normalizing bare hosts
// against the frontend's default port. Re-registering an already-known
// backend is a no-op for its counters.
func (f *FrontEnd) AddBackends(backends ...Backend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range backends {
		addr := b.resolve(f.defaultPort)
		if _, ok := f.backends[addr]; ok {
			continue
		}
		f.backends[addr] = &backendState{
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        addr.String(),
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= 3
				},
			}),
		}
	}
}

// sortedAddrs returns registered backend addresses sorted ascending by
// in-flight count, a snapshot taken under the mutex. Ties break by map
// iteration order, which is acceptable per spec.md: this is a hint, not
// a reservation.
func (f *FrontEnd) sortedAddrs() []Addr {
	f.mu.Lock()
	defer f.mu.Unlock()
	addrs := make([]Addr, 0, len(f.backends))
	for addr := range f.backends {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return f.backends[addrs[i]].inFlight < f.backends[addrs[j]].inFlight
	})
	return addrs
}

// Work encodes task/args/kw once, then tries registered backends in
// least-loaded order, failing over past any backend that fails with a
// connection-level error. It returns ErrBackendsNotAvailable if every
// candidate fails that way, or the first non-connection error verbatim.
func (f *FrontEnd) Work(ctx context.Context, task string, args []any, kw map[string]any) (any, error) {
	start := time.Now()
	defer func() { f.metrics.workDuration.Observe(time.Since(start).Seconds()) }()

	if kw == nil {
		kw = map[string]any{}
	}
	pkg, err := f.codec.Encode([]any{task, args, kw})
	if err != nil {
		return nil, fmt.Errorf("frontend: encode request: %w", err)
	}

	for _, addr := range f.sortedAddrs() {
		result, err := f.attempt(ctx, addr, pkg)
		if err == nil {
			return result, nil
		}
		if isConnErr(err) {
			f.log.Log(tlog.INFO, "frontend: backend unreachable, failing over", zap.String("backend", addr.String()), zap.Error(err))
			f.metrics.failovers.WithLabelValues(addr.String()).Inc()
			continue
		}
		return nil, err
	}
	return nil, ErrBackendsNotAvailable
}

// attempt is the per-backend dispatch step (the reference
// implementation's `_work`): bump counters, dial fresh (wrapped by that
// backend's circuit breaker), frame the request, frame the reply,
// decode the envelope.
func (f *FrontEnd) attempt(ctx context.Context, addr Addr, pkg []byte) (any, error) {
	f.mu.Lock()
	st := f.backends[addr]
	st.inFlight++
	st.lifetime++
	seq := st.lifetime
	f.mu.Unlock()
	f.metrics.backendsInFlight.WithLabelValues(addr.String()).Set(float64(st.inFlight))

	f.log.Log(tlog.INFO, "frontend: starting backend task", zap.String("backend", addr.String()), zap.Int("seq", seq))

	result, replyErr := func() (result []any, err error) {
		raw, err := st.breaker.Execute(func() (any, error) {
			conn, dialErr := f.dialer.DialContext(ctx, "tcp", addr.String())
			if dialErr != nil {
				return nil, dialErr
			}
			defer conn.Close()

			if sendErr := f.framer.Send(conn, pkg); sendErr != nil {
				return nil, sendErr
			}
			reply, recvErr := f.framer.Recv(conn)
			if recvErr != nil {
				return nil, recvErr
			}
			return reply, nil
		})
		if err != nil {
			return nil, err
		}

		var envelope []any
		if decErr := f.codec.Decode(raw.([]byte), &envelope); decErr != nil {
			return nil, fmt.Errorf("frontend: decode response: %w", decErr)
		}
		return envelope, nil
	}()

	f.mu.Lock()
	if replyErr != nil {
		// This attempt didn't count: undo both counters, as spec.md
		// directs, so a failed attempt doesn't leave a phantom task
		// against this backend's load.
		st.inFlight--
		st.lifetime--
	} else {
		st.inFlight--
	}
	inFlightNow := st.inFlight
	f.mu.Unlock()
	f.metrics.backendsInFlight.WithLabelValues(addr.String()).Set(float64(inFlightNow))

	if replyErr != nil {
		f.metrics.attempts.WithLabelValues(addr.String(), "error").Inc()
		return nil, replyErr
	}
	f.metrics.attempts.WithLabelValues(addr.String(), "success").Inc()

	f.log.Log(tlog.INFO, "frontend: finished backend task", zap.String("backend", addr.String()), zap.Int("seq", seq))

	if len(result) == 0 {
		return nil, fmt.Errorf("frontend: empty response envelope from %s", addr)
	}
	kind, _ := result[0].(string)
	if kind == "error" {
		name, _ := result[1].(string)
		var errArgs []any
		if len(result) > 2 {
			errArgs, _ = result[2].([]any)
		}
		f.logBackendError(addr, name)
		return nil, &BackendProcessingError{Type: name, Args: errArgs}
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("frontend: malformed success envelope from %s", addr)
	}
	return result[1], nil
}

func (f *FrontEnd) logBackendError(addr Addr, name string) {
	if f.errCache == nil {
		f.log.Log(tlog.ERROR, "frontend: backend reported task error", zap.String("backend", addr.String()), zap.String("error", name))
		return
	}
	key := addr.String() + "|" + name
	if _, seen := f.errCache.Get(key); seen {
		return
	}
	f.errCache.Add(key, struct{}{})
	f.log.Log(tlog.ERROR, "frontend: backend reported task error", zap.String("backend", addr.String()), zap.String("error", name))
}

// isConnErr reports whether err is a socket-level failure to connect
// (as opposed to an application error returned over a connection that
// succeeded), mirroring the reference implementation's "only
// socket.error triggers failover" rule. A backend whose breaker has
// tripped is just as unreachable as one refusing connections, so
// gobreaker's open-state errors are classified the same way.
func isConnErr(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return true
	}
	_, ok := err.(*net.OpError)
	return ok
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// SendStop sends the reserved <stop> admin task directly to addr,
// requesting a graceful drain-then-terminate shutdown. The attempt is
// logged like any other dispatch (INFO on start and finish, ERROR for an
// error envelope); logging is not suppressed for admin signals.
func (f *FrontEnd) SendStop(ctx context.Context, addr Addr) error {
	return f.sendSignal(ctx, addr, stopTask)
}

// SendKill sends the reserved <kill> admin task directly to addr,
// requesting an immediate hard shutdown.
func (f *FrontEnd) SendKill(ctx context.Context, addr Addr) error {
	return f.sendSignal(ctx, addr, killTask)
}

const (
	stopTask   = "<stop>"
	killTask   = "<kill>"
	statusTask = "<status>"
)

func (f *FrontEnd) sendSignal(ctx context.Context, addr Addr, task string) error {
	f.mu.Lock()
	_, ok := f.backends[addr]
	f.mu.Unlock()
	if !ok {
		return ErrNoSuchBackend
	}
	pkg, err := f.codec.Encode([]any{task, []any{}, map[string]any{}})
	if err != nil {
		return fmt.Errorf("frontend: encode signal: %w", err)
	}
	_, err = f.attempt(ctx, addr, pkg)
	return err
}

// GetTasks sends <status> directly to addr and returns the backend's
// in-flight count as a decimal string, or "down" if addr could not be
// reached at all.
func (f *FrontEnd) GetTasks(ctx context.Context, addr Addr) (string, error) {
	f.mu.Lock()
	_, ok := f.backends[addr]
	f.mu.Unlock()
	if !ok {
		return "", ErrNoSuchBackend
	}
	pkg, err := f.codec.Encode([]any{statusTask, []any{}, map[string]any{}})
	if err != nil {
		return "", fmt.Errorf("frontend: encode status probe: %w", err)
	}
	result, err := f.attempt(ctx, addr, pkg)
	if err != nil {
		if isConnErr(err) {
			return "down", nil
		}
		return "", err
	}
	status, _ := result.(string)
	return status, nil
}

// Callback spawns a goroutine that performs Work and then invokes
// successCb on success or errorCb on failure. A nil errorCb logs the
// failure; DropError silently discards it.
func (f *FrontEnd) Callback(task string, successCb func(any), errorCb ErrorCallback, args []any, kw map[string]any) {
	go func() {
		result, err := f.Work(context.Background(), task, args, kw)
		if err != nil {
			bpe, ok := err.(*BackendProcessingError)
			if !ok {
				bpe = &BackendProcessingError{Type: "frontend.Error", Args: []any{err.Error()}}
			}
			switch {
			case errorCb == nil:
				f.log.Log(tlog.ERROR, "frontend: callback task failed", zap.Error(err))
			case errorCb == DropError:
				// silently dropped
			default:
				errorCb.onError(bpe)
			}
			return
		}
		successCb(result)
	}()
}

// Ignore fires a task and forgets about both its result and its errors.
func (f *FrontEnd) Ignore(task string, args []any, kw map[string]any) {
	f.Callback(task, func(any) {}, DropError, args, kw)
}
