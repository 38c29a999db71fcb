// Package lifecycle tracks whether the host application is active or in the
// background.
package lifecycle

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pushhand/pushhand/internal/logging"
)

// State is the application lifecycle state reported by the shell.
type State string

const (
	Active     State = "active"
	Inactive   State = "inactive"
	Background State = "background"
)

// ParseState accepts the states reported by iOS and Android shells.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "foreground", "resumed":
		return Active, nil
	case "inactive":
		return Inactive, nil
	case "background", "paused", "stopped":
		return Background, nil
	default:
		return "", fmt.Errorf("unknown app state %q", s)
	}
}

// Tracker holds the last reported state. The zero value is Active.
type Tracker struct {
	background atomic.Bool
	inactive   atomic.Bool
}

// NewTracker returns a tracker starting in initial.
func NewTracker(initial State) *Tracker {
	t := &Tracker{}
	t.Set(initial)
	return t
}

// Set records a state change.
func (t *Tracker) Set(s State) {
	prev := t.State()
	t.background.Store(s == Background)
	t.inactive.Store(s == Inactive)
	if prev != s {
		logging.Get().Debug().Str("from", string(prev)).Str("to", string(s)).Msg("app state changed")
	}
}

// State returns the last recorded state.
func (t *Tracker) State() State {
	switch {
	case t.background.Load():
		return Background
	case t.inactive.Load():
		return Inactive
	default:
		return Active
	}
}

// IsBackground reports whether the app is backgrounded. Inactive counts as
// foreground: a notification opened from the lock screen of an active
// session is already on screen.
func (t *Tracker) IsBackground() bool { return t.background.Load() }
