package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/pushhand/pushhand/internal/push"
)

// Notification levels.
const (
	LevelAll     = "all"
	LevelFailure = "failure"
	LevelNone    = "none"
)

// Reporter turns coordinator failures into operator alerts. It implements
// push.Reporter.
type Reporter struct {
	ctx            context.Context
	dispatcher     *Dispatcher
	level          string
	installationID string
}

// NewReporter returns a reporter gated by level. Alerts are sent with ctx.
func NewReporter(ctx context.Context, d *Dispatcher, level, installationID string) *Reporter {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case LevelAll, LevelFailure, LevelNone:
	default:
		level = LevelFailure
	}
	return &Reporter{ctx: ctx, dispatcher: d, level: level, installationID: installationID}
}

// Level returns the effective notification level.
func (r *Reporter) Level() string { return r.level }

// RegistrationFailed implements push.Reporter.
func (r *Reporter) RegistrationFailed(err error) {
	if r.level == LevelNone {
		return
	}
	r.send("Push registration failed", fmt.Sprintf("Installation %s could not register for remote notifications: %v", r.installationID, err))
}

// TokenRotated implements push.Reporter.
func (r *Reporter) TokenRotated(previous, current string) {
	if r.level != LevelAll {
		return
	}
	r.send("Device token rotated", fmt.Sprintf("Installation %s received a new device token (%s -> %s)", r.installationID, MaskToken(previous), MaskToken(current)))
}

// EventDropped implements push.Reporter.
func (r *Reporter) EventDropped(kind push.EventKind, err error) {
	if r.level != LevelAll {
		return
	}
	r.send("Notification event dropped", fmt.Sprintf("Installation %s dropped a %s event: %v", r.installationID, kind, err))
}

func (r *Reporter) send(title, message string) {
	if r.dispatcher == nil || r.dispatcher.Len() == 0 {
		return
	}
	r.dispatcher.Send(r.ctx, title, message)
}

// MaskToken shortens a device token for display.
func MaskToken(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:6] + "..." + tok[len(tok)-2:]
}
