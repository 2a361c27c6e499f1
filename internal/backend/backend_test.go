package backend

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pydsigner/taskit/internal/frame"
)

func newTestBackend(t *testing.T, tasks map[string]TaskEntry) (*Backend, func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	ln.Close()

	b, err := New(Config{Host: host, Port: port, EndResp: 10 * time.Millisecond}, tasks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Serve(ctx)
		close(done)
	}()
	// Give the accept loop a moment to bind.
	time.Sleep(30 * time.Millisecond)

	return b, func() {
		cancel()
		<-done
	}
}

func dialAndCall(t *testing.T, b *Backend, task string, args []any, kw map[string]any) []any {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort(b.host, strconv.Itoa(b.port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fr, err := frame.New(0)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	req, err := json.Marshal([]any{task, args, kw})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := fr.Send(conn, req); err != nil {
		t.Fatalf("send: %v", err)
	}
	raw, err := fr.Recv(conn)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	var envelope []any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return envelope
}

func TestBackendEchoTask(t *testing.T) {
	tasks := map[string]TaskEntry{
		"echo": Plain(func(args []any, kw map[string]any) (any, error) {
			return args[0], nil
		}),
	}
	b, stop := newTestBackend(t, tasks)
	defer stop()

	envelope := dialAndCall(t, b, "echo", []any{"hello"}, nil)
	if len(envelope) != 2 || envelope[0] != "success" || envelope[1] != "hello" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
}

func TestBackendUnknownTask(t *testing.T) {
	b, stop := newTestBackend(t, map[string]TaskEntry{})
	defer stop()

	envelope := dialAndCall(t, b, "nope", nil, nil)
	if envelope[0] != "error" || envelope[1] != "UnknownTask" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
}

func TestBackendTaskErrorEnvelope(t *testing.T) {
	tasks := map[string]TaskEntry{
		"boom": Plain(func(args []any, kw map[string]any) (any, error) {
			return nil, NewTaskError("BoomError", "kaboom")
		}),
	}
	b, stop := newTestBackend(t, tasks)
	defer stop()

	envelope := dialAndCall(t, b, "boom", nil, nil)
	if envelope[0] != "error" || envelope[1] != "BoomError" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
}

func TestBackendPanicRecovered(t *testing.T) {
	tasks := map[string]TaskEntry{
		"panics": Plain(func(args []any, kw map[string]any) (any, error) {
			panic("oops")
		}),
	}
	b, stop := newTestBackend(t, tasks)
	defer stop()

	envelope := dialAndCall(t, b, "panics", nil, nil)
	if envelope[0] != "error" || envelope[1] != "GoError" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
	if b.InFlight() != 0 {
		t.Fatalf("in-flight counter leaked after panic: %d", b.InFlight())
	}
}

func TestBackendStatusTask(t *testing.T) {
	b, stop := newTestBackend(t, map[string]TaskEntry{})
	defer stop()

	envelope := dialAndCall(t, b, Status, nil, nil)
	if envelope[0] != "success" {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
	if envelope[1] != "0" {
		t.Fatalf("expected zero in-flight at rest, got %v", envelope[1])
	}
}

func TestBackendInFlightConservedAcrossSuccessAndFailure(t *testing.T) {
	tasks := map[string]TaskEntry{
		"ok": Plain(func(args []any, kw map[string]any) (any, error) {
			return "fine", nil
		}),
		"fail": Plain(func(args []any, kw map[string]any) (any, error) {
			return nil, NewTaskError("Nope")
		}),
	}
	b, stop := newTestBackend(t, tasks)
	defer stop()

	dialAndCall(t, b, "ok", nil, nil)
	dialAndCall(t, b, "fail", nil, nil)
	dialAndCall(t, b, "unknown-task", nil, nil)

	if got := b.InFlight(); got != 0 {
		t.Fatalf("expected in-flight to return to 0, got %d", got)
	}
}

func TestBackendGracefulStopDrainsBeforeTerminating(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	tasks := map[string]TaskEntry{
		"slow": Plain(func(args []any, kw map[string]any) (any, error) {
			close(started)
			<-release
			return "done", nil
		}),
	}
	b, stop := newTestBackend(t, tasks)
	defer stop()

	go dialAndCall(t, b, "slow", nil, nil)
	<-started

	go b.stopServer()
	time.Sleep(20 * time.Millisecond)
	if b.getState() != stateStopping {
		t.Fatalf("expected stopping state while task in flight, got %v", b.getState())
	}

	close(release)
	deadline := time.After(time.Second)
	for b.getState() != stateTerminating {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for drain to finish")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
