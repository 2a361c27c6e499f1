package frontend

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pydsigner/taskit/internal/codec"
	"github.com/pydsigner/taskit/internal/frame"
)

// fakeBackend is a minimal single-task TCP server standing in for
// internal/backend in tests that only need to exercise the frontend's
// dialing, framing, and envelope-decoding logic.
type fakeBackend struct {
	ln     net.Listener
	handle func(task string, args []any, kw map[string]any) []any
}

func startFakeBackend(t *testing.T, handle func(task string, args []any, kw map[string]any) []any) (Addr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fb := &fakeBackend{ln: ln, handle: handle}
	go fb.serve()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return Addr{Host: host, Port: port}, func() { ln.Close() }
}

func (fb *fakeBackend) serve() {
	fr, _ := frame.New(0)
	for {
		conn, err := fb.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			raw, err := fr.Recv(conn)
			if err != nil {
				return
			}
			var envelope []any
			if err := codec.JSON.Decode(raw, &envelope); err != nil {
				return
			}
			task, _ := envelope[0].(string)
			args, _ := envelope[1].([]any)
			kw, _ := envelope[2].(map[string]any)

			reply := fb.handle(task, args, kw)
			enc, err := codec.JSON.Encode(reply)
			if err != nil {
				return
			}
			_ = fr.Send(conn, enc)
		}()
	}
}

func alwaysSucceeds(result any) func(string, []any, map[string]any) []any {
	return func(string, []any, map[string]any) []any {
		return []any{"success", result}
	}
}

func TestFrontEndWorkSuccess(t *testing.T) {
	addr, stop := startFakeBackend(t, alwaysSucceeds("pong"))
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := f.Work(context.Background(), "ping", nil, nil)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if result != "pong" {
		t.Fatalf("expected pong, got %v", result)
	}
}

func TestFrontEndWorkBackendTaskError(t *testing.T) {
	addr, stop := startFakeBackend(t, func(string, []any, map[string]any) []any {
		return []any{"error", "BoomError", []any{"kaboom"}}
	})
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = f.Work(context.Background(), "boom", nil, nil)
	bpe, ok := err.(*BackendProcessingError)
	if !ok {
		t.Fatalf("expected *BackendProcessingError, got %T (%v)", err, err)
	}
	if bpe.Type != "BoomError" {
		t.Fatalf("unexpected error type: %s", bpe.Type)
	}
}

func TestFrontEndFailoverSkipsDeadBackend(t *testing.T) {
	deadAddr := Addr{Host: "127.0.0.1", Port: 1} // nothing listens on port 1
	liveAddr, stop := startFakeBackend(t, alwaysSucceeds("alive"))
	defer stop()

	f, err := New(Config{DialTimeout: 200 * time.Millisecond}, deadAddr, liveAddr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := f.Work(context.Background(), "anything", nil, nil)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if result != "alive" {
		t.Fatalf("expected failover to the live backend, got %v", result)
	}
}

func TestFrontEndAllBackendsDown(t *testing.T) {
	f, err := New(Config{DialTimeout: 100 * time.Millisecond}, Addr{Host: "127.0.0.1", Port: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = f.Work(context.Background(), "anything", nil, nil)
	if err != ErrBackendsNotAvailable {
		t.Fatalf("expected ErrBackendsNotAvailable, got %v", err)
	}
}

func TestFrontEndInFlightReturnsToZeroOnSuccess(t *testing.T) {
	addr, stop := startFakeBackend(t, alwaysSucceeds("ok"))
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := f.Work(context.Background(), "t", nil, nil); err != nil {
			t.Fatalf("Work #%d: %v", i, err)
		}
	}

	f.mu.Lock()
	st := f.backends[addr]
	f.mu.Unlock()
	if st.inFlight != 0 {
		t.Fatalf("expected in-flight to settle at 0, got %d", st.inFlight)
	}
	if st.lifetime != 5 {
		t.Fatalf("expected lifetime count of 5, got %d", st.lifetime)
	}
}

func TestFrontEndCallbackInvokesSuccess(t *testing.T) {
	addr, stop := startFakeBackend(t, alwaysSucceeds("done"))
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got any
	f.Callback("t", func(result any) {
		got = result
		wg.Done()
	}, nil, nil, nil)

	wg.Wait()
	if got != "done" {
		t.Fatalf("expected done, got %v", got)
	}
}

func TestFrontEndIgnoreDoesNotBlock(t *testing.T) {
	addr, stop := startFakeBackend(t, func(string, []any, map[string]any) []any {
		return []any{"error", "Whatever", nil}
	})
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.Ignore("t", nil, nil) // must not panic or block the caller
}

func TestAddBackendsIsIdempotentForCounters(t *testing.T) {
	addr, stop := startFakeBackend(t, alwaysSucceeds("x"))
	defer stop()

	f, err := New(Config{}, addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.Work(context.Background(), "t", nil, nil); err != nil {
		t.Fatalf("Work: %v", err)
	}

	f.AddBackends(addr) // re-registering must not reset counters

	f.mu.Lock()
	lifetime := f.backends[addr].lifetime
	f.mu.Unlock()
	if lifetime != 1 {
		t.Fatalf("expected re-registration to preserve lifetime count, got %d", lifetime)
	}
}
