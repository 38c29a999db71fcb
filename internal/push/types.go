// Package push coordinates device registration with the platform push service
// and routes platform notification events to the application.
package push

import (
	"context"
	"strings"
)

// Category and action identifiers declared at start-up.
const (
	MessageCategory = "MESSAGE"
	ReplyActionID   = "REPLY_ACTION"
)

// Localization keys used for the reply action.
const (
	KeyReply       = "Reply"
	KeyTypeMessage = "Type_message"
)

// Event is a notification delivered by the platform push service.
type Event struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body,omitempty"`
	Foreground bool              `json:"foreground"`
	Category   string            `json:"category,omitempty"`
	ActionID   string            `json:"action_id,omitempty"`
	ReplyText  string            `json:"reply_text,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// Validate reports whether the event carries the fields the coordinator relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return malformed("event id is empty")
	}
	return nil
}

// IsReply is true when the user answered through the quick-reply action.
func (e Event) IsReply() bool {
	return e.ActionID == ReplyActionID
}

// EventKind names one of the platform event streams.
type EventKind string

const (
	KindRegistered         EventKind = "registered"
	KindRegistrationFailed EventKind = "registration_failed"
	KindReceivedForeground EventKind = "received_foreground"
	KindReceivedBackground EventKind = "received_background"
	KindOpened             EventKind = "opened"
)

// DeliveryDecision controls the default OS presentation of a received notification.
type DeliveryDecision struct {
	ShowAlert   bool `json:"alert"`
	PlaySound   bool `json:"sound"`
	UpdateBadge bool `json:"badge"`
}

var (
	// the app renders its own in-app representation while foregrounded
	foregroundDecision = DeliveryDecision{}
	backgroundDecision = DeliveryDecision{ShowAlert: true, PlaySound: true, UpdateBadge: false}
)

// DefaultDecision returns the presentation applied to a received event of
// kind when nothing else decides. Other kinds get the foreground decision.
func DefaultDecision(kind EventKind) DeliveryDecision {
	if kind == KindReceivedBackground {
		return backgroundDecision
	}
	return foregroundDecision
}

// RegistrationOutcome is the result of one registration attempt. Exactly one
// of Token and Err is set.
type RegistrationOutcome struct {
	Token string
	Err   error
}

// Succeeded reports whether the attempt produced a device token.
func (o RegistrationOutcome) Succeeded() bool { return o.Err == nil && o.Token != "" }

// ReplyAction is a platform quick action attached to a category.
type ReplyAction struct {
	ID           string `json:"id"`
	Activation   string `json:"activation"`
	Label        string `json:"label"`
	ButtonTitle  string `json:"button_title"`
	Placeholder  string `json:"placeholder"`
	TextInput    bool   `json:"text_input"`
	AuthRequired bool   `json:"auth_required"`
}

// Category groups actions the platform shows for a notification.
type Category struct {
	ID      string        `json:"id"`
	Actions []ReplyAction `json:"actions"`
}

// Callback receives notifications the user opened.
type Callback func(Event)

// EventHandler is the subscriber side of the platform event streams. The
// complete functions must be invoked exactly once per event.
type EventHandler interface {
	OnRegistered(token string)
	OnRegistrationFailed(err error)
	OnReceivedForeground(ev Event, complete func(DeliveryDecision))
	OnReceivedBackground(ev Event, complete func(DeliveryDecision))
	OnOpened(ev Event, complete func())
}

// PlatformService is the operating system push-delivery subsystem.
type PlatformService interface {
	RegisterRemoteNotifications(ctx context.Context) error
	SetCategories(ctx context.Context, categories []Category) error
	SetBadgeCount(ctx context.Context, count int) error
	Subscribe(h EventHandler) error
	// InitialNotification returns the notification that launched the process, or nil.
	InitialNotification(ctx context.Context) (*Event, error)
}

// Localizer supplies human-readable strings.
type Localizer interface {
	T(key string) string
}

// AppState exposes the application lifecycle state.
type AppState interface {
	IsBackground() bool
}

// Reporter receives internal failures. Calls are fire-and-forget.
type Reporter interface {
	RegistrationFailed(err error)
	TokenRotated(previous, current string)
	EventDropped(kind EventKind, err error)
}

// TokenSink is told about every successful registration. previous is empty
// on the first registration of the process.
type TokenSink interface {
	Name() string
	StoreToken(ctx context.Context, family, token, previous string) error
}
