package resync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSetResultBeforeGetReturnsImmediately(t *testing.T) {
	m := NewMediator()
	m.SetResult(42)

	got, err := m.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(int) != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestSetErrorIsPropagated(t *testing.T) {
	m := NewMediator()
	wantErr := errors.New("boom")
	m.SetError(wantErr)

	_, err := m.Get(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestGetTimesOutWithoutASetter(t *testing.T) {
	m := NewMediator()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Get(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("got %v, want ErrWaitTimeout", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("returned too early: %v", elapsed)
	}
	if elapsed > 250*time.Millisecond {
		t.Fatalf("returned too late: %v", elapsed)
	}
}

func TestGetBlocksUntilSetFromAnotherGoroutine(t *testing.T) {
	m := NewMediator()
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.SetResult("done")
	}()

	got, err := m.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(string) != "done" {
		t.Fatalf("got %v, want %q", got, "done")
	}
}

func TestResyncerRunsFnAndReturnsItsResult(t *testing.T) {
	r := NewResyncer(func() (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	r.Start()

	got, err := r.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.(string) != "ok" {
		t.Fatalf("got %v, want %q", got, "ok")
	}
}

func TestResyncerPropagatesError(t *testing.T) {
	wantErr := errors.New("task failed")
	r := NewResyncer(func() (any, error) {
		return nil, wantErr
	})
	r.Start()

	_, err := r.Get(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}
