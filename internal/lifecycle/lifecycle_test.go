package lifecycle

import (
	"sync"
	"testing"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{"active", Active, false},
		{" Foreground ", Active, false},
		{"inactive", Inactive, false},
		{"background", Background, false},
		{"paused", Background, false},
		{"gone", "", true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseState(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTracker(t *testing.T) {
	var zero Tracker
	if zero.IsBackground() || zero.State() != Active {
		t.Fatal("zero tracker must be active")
	}

	tr := NewTracker(Background)
	if !tr.IsBackground() {
		t.Fatal("expected background")
	}
	tr.Set(Inactive)
	if tr.IsBackground() || tr.State() != Inactive {
		t.Fatalf("expected inactive foreground, got %s", tr.State())
	}
	tr.Set(Active)
	if tr.State() != Active {
		t.Fatalf("expected active, got %s", tr.State())
	}
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker(Active)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.Set(Background)
			} else {
				tr.Set(Active)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = tr.IsBackground()
		}()
	}
	wg.Wait()
}
