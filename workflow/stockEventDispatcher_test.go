package workflow

import (
	"context"
	"testing"
	"time"
)

func TestRetryBackoff(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{7, 320 * time.Second},
		{8, 10 * time.Minute},
		{30, 10 * time.Minute},
	}
	for _, c := range cases {
		if got := retryBackoff(5*time.Second, c.attempt); got != c.expected {
			t.Fatalf("attempt %d: got %s, expected %s", c.attempt, got, c.expected)
		}
	}
}

func TestDispatchOnceWithoutDatabase(t *testing.T) {
	d := NewStockEventDispatcher(nil, nil)
	if d.Publish == nil || d.DispatcherID == "" {
		t.Fatalf("dispatcher defaults not set: %+v", d)
	}
	if n := d.DispatchOnce(context.Background()); n != 0 {
		t.Fatalf("expected nothing dispatched, got %d", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	d := NewStockEventDispatcher(nil, nil)
	d.PollInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
