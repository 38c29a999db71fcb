package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeService struct {
	name  string
	mu    sync.Mutex
	calls []string
	fails int
}

func (f *fakeService) Send(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, title+"|"+message)
	if len(f.calls) <= f.fails {
		return errors.New("temporary failure")
	}
	return nil
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var mu sync.Mutex
	durations := []time.Duration{}
	old := sleepHook
	sleepHook = func(d time.Duration) {
		mu.Lock()
		durations = append(durations, d)
		mu.Unlock()
	}
	t.Cleanup(func() { sleepHook = old })
	return &durations
}

func wait(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestDispatcherRetries(t *testing.T) {
	sleeps := noSleep(t)
	d := NewDispatcher(0)
	ok := &fakeService{name: "ok"}
	flaky := &fakeService{name: "flaky", fails: 2}
	broken := &fakeService{name: "broken", fails: 100}
	d.Add(ok)
	d.Add(flaky)
	d.Add(broken)
	d.Add(nil)
	if d.Len() != 3 {
		t.Fatalf("expected 3 services, got %d", d.Len())
	}

	d.Send(context.Background(), "title", "msg")
	wait(t, d)

	if ok.count() != 1 || flaky.count() != 3 || broken.count() != maxRetries {
		t.Fatalf("unexpected attempts ok=%d flaky=%d broken=%d", ok.count(), flaky.count(), broken.count())
	}
	// flaky sleeps twice, broken sleeps maxRetries-1 times
	if len(*sleeps) != 2+maxRetries-1 {
		t.Fatalf("unexpected number of backoff sleeps: %d", len(*sleeps))
	}
}

func TestDispatcherCooldownPerTitle(t *testing.T) {
	noSleep(t)
	d := NewDispatcher(0)
	svc := &fakeService{name: "svc"}
	d.Add(svc)

	d.Send(context.Background(), "A", "1")
	wait(t, d)
	d.Send(context.Background(), "A", "2")
	wait(t, d)
	if svc.count() != 1 {
		t.Fatalf("expected repeated alert to be suppressed, got %d", svc.count())
	}
	d.Send(context.Background(), "B", "3")
	wait(t, d)
	if svc.count() != 2 {
		t.Fatalf("expected distinct alert to be sent, got %d", svc.count())
	}
	d.SetCooldown(0)
	d.Send(context.Background(), "A", "4")
	wait(t, d)
	if svc.count() != 3 {
		t.Fatalf("expected alert after cooldown reset, got %d", svc.count())
	}
}

func TestDispatcherRateLimit(t *testing.T) {
	noSleep(t)
	d := NewDispatcher(2)
	d.SetCooldown(0)
	svc := &fakeService{name: "svc"}
	d.Add(svc)
	for i := 0; i < 5; i++ {
		d.Send(context.Background(), "T", "M")
		wait(t, d)
	}
	if svc.count() != 2 {
		t.Fatalf("expected burst of 2 alerts, got %d", svc.count())
	}
}

func TestDispatcherHonoursCancellation(t *testing.T) {
	old := sleepHook
	sleepHook = func(time.Duration) { time.Sleep(time.Second) }
	t.Cleanup(func() { sleepHook = old })

	d := NewDispatcher(0)
	svc := &fakeService{name: "svc", fails: 100}
	d.Add(svc)
	ctx, cancel := context.WithCancel(context.Background())
	d.Send(ctx, "T", "M")
	cancel()
	wait(t, d)
	if svc.count() != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", svc.count())
	}
}

func TestBackoffDuration(t *testing.T) {
	oldBase, oldJitter := baseBackoff, backoffJitter
	baseBackoff, backoffJitter = 10*time.Millisecond, 0
	t.Cleanup(func() { baseBackoff, backoffJitter = oldBase, oldJitter })
	if got := backoffDuration(3); got != 40*time.Millisecond {
		t.Fatalf("expected 40ms, got %v", got)
	}
	backoffJitter = 5 * time.Millisecond
	if got := backoffDuration(1); got < 10*time.Millisecond || got >= 15*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}
