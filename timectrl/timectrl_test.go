package timectrl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickControllerInvokesListeners(t *testing.T) {
	tc := NewTickController(5 * time.Millisecond)

	var ticks atomic.Int64
	tc.AddListener(func(time.Time) { ticks.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	tc.Run(ctx)

	if ticks.Load() == 0 {
		t.Fatal("listener never invoked")
	}
}

func TestTickControllerNowAdvances(t *testing.T) {
	tc := NewTickController(5 * time.Millisecond)
	before := tc.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tc.Run(ctx)

	if !tc.Now().After(before) {
		t.Fatalf("Now did not advance past %s", before)
	}
}

func TestTickControllerListenersRunSequentially(t *testing.T) {
	tc := NewTickController(time.Millisecond)

	var inFlight atomic.Int64
	var overlapped atomic.Bool
	listener := func(time.Time) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
	}
	tc.AddListener(listener)
	tc.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tc.Run(ctx)

	if overlapped.Load() {
		t.Fatal("listeners observed running concurrently")
	}
}
