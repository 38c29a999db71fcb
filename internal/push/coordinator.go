package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/metrics"
)

// State is the registration lifecycle of a Coordinator.
type State int32

const (
	StateUninitialized State = iota
	StateRegistering
	StateRegistered
	StateRegistrationFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateRegistrationFailed:
		return "registration_failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultPendingLimit bounds the number of opened notifications kept while no
// callback is configured.
const DefaultPendingLimit = 32

// DefaultSinkTimeout bounds a single TokenSink call.
const DefaultSinkTimeout = 10 * time.Second

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithReporter sets the observability collaborator.
func WithReporter(r Reporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithTokenSinks adds sinks told about every new device token.
func WithTokenSinks(sinks ...TokenSink) Option {
	return func(c *Coordinator) {
		for _, s := range sinks {
			if s != nil {
				c.sinks = append(c.sinks, s)
			}
		}
	}
}

// WithPendingLimit sets how many opened notifications are buffered until
// Configure. Zero drops them instead.
func WithPendingLimit(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.pendingLimit = n
		}
	}
}

// WithSinkTimeout bounds each TokenSink call.
func WithSinkTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sinkTimeout = d
		}
	}
}

// Coordinator owns device registration and routes platform events to the
// application callback. Construct one per process and share it by reference.
type Coordinator struct {
	platform  PlatformService
	family    Family
	appState  AppState
	localizer Localizer
	reporter  Reporter
	sinks     []TokenSink

	sinkTimeout time.Duration
	initialized atomic.Bool

	mu    sync.RWMutex
	state State
	token string

	// callback slot; nil until Configure
	cbMu         sync.Mutex
	callback     Callback
	pending      []Event
	pendingLimit int
	initialTaken bool
	initialID    string
	fetching     bool
	replaced     bool

	sinkMu   sync.Mutex
	sinkTail chan struct{}
	wg       sync.WaitGroup
}

// New builds a coordinator. appState may be nil, in which case the app is
// treated as foregrounded; localizer may be nil, in which case keys are used verbatim.
func New(platform PlatformService, family Family, appState AppState, localizer Localizer, opts ...Option) (*Coordinator, error) {
	if platform == nil {
		return nil, errors.New("push: platform service is required")
	}
	if family == nil {
		return nil, errors.New("push: platform family is required")
	}
	if appState == nil {
		appState = foregrounded{}
	}
	if localizer == nil {
		localizer = keyLocalizer{}
	}
	c := &Coordinator{
		platform:     platform,
		family:       family,
		appState:     appState,
		localizer:    localizer,
		reporter:     nopReporter{},
		sinkTimeout:  DefaultSinkTimeout,
		pendingLimit: DefaultPendingLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Initialize subscribes to platform events, declares the message category
// where supported and requests remote registration. It may be called once.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if !c.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	// subscribe before requesting registration so the result cannot be missed
	if err := c.platform.Subscribe(c); err != nil {
		c.initialized.Store(false)
		return fmt.Errorf("subscribe to platform events: %w", err)
	}
	c.transition(StateUninitialized, StateRegistering)

	if c.family.SupportsCategories() {
		if err := c.platform.SetCategories(ctx, c.categories()); err != nil {
			logging.Get().Warn().Err(err).Str("family", c.family.Name()).Msg("failed to declare notification categories")
		}
	}

	logging.Get().Info().Str("family", c.family.Name()).Msg("requesting remote notification registration")
	if err := c.platform.RegisterRemoteNotifications(ctx); err != nil {
		c.OnRegistrationFailed(err)
	}
	return nil
}

func (c *Coordinator) categories() []Category {
	reply := c.localizer.T(KeyReply)
	return []Category{{
		ID: MessageCategory,
		Actions: []ReplyAction{{
			ID:           ReplyActionID,
			Activation:   "background",
			Label:        reply,
			ButtonTitle:  reply,
			Placeholder:  c.localizer.T(KeyTypeMessage),
			TextInput:    true,
			AuthRequired: true,
		}},
	}}
}

func (c *Coordinator) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

// State returns the current registration state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DeviceToken returns the current device token, empty until the first
// successful registration.
func (c *Coordinator) DeviceToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Family returns the platform family the coordinator was built for.
func (c *Coordinator) Family() Family { return c.family }

// SetBadgeCount applies count on badge-capable platforms. A nil count or a
// platform without badges is a no-op.
func (c *Coordinator) SetBadgeCount(ctx context.Context, count *int) error {
	if count == nil || !c.family.SupportsBadges() {
		return nil
	}
	if *count < 0 {
		return fmt.Errorf("push: negative badge count %d", *count)
	}
	if err := c.platform.SetBadgeCount(ctx, *count); err != nil {
		return fmt.Errorf("set badge count: %w", err)
	}
	metrics.IncBadgeUpdate()
	return nil
}

// Configure installs cb as the application callback, replacing any previous
// one, and returns the notification that launched the process. The initial
// notification is returned at most once per process. Opened events that
// arrive while it is being read are held back and delivered afterwards.
func (c *Coordinator) Configure(ctx context.Context, cb Callback) (*Event, error) {
	if cb == nil {
		return nil, errors.New("push: callback is required")
	}
	c.cbMu.Lock()
	if c.initialTaken {
		c.callback = cb
		if c.fetching {
			// the in-flight Configure flushes to this callback
			c.replaced = true
			c.cbMu.Unlock()
			return nil, nil
		}
		pending := c.pending
		c.pending = nil
		c.cbMu.Unlock()
		c.flush(cb, pending)
		return nil, nil
	}
	c.initialTaken = true
	c.fetching = true
	c.replaced = false
	c.cbMu.Unlock()

	initial, err := c.platform.InitialNotification(ctx)

	c.cbMu.Lock()
	c.fetching = false
	if !c.replaced {
		c.callback = cb
	}
	cb = c.callback
	pending := c.pending
	c.pending = nil
	if err != nil {
		c.initialTaken = false
		initial = nil
	}
	if initial != nil {
		var seen bool
		pending, seen = withoutEvent(pending, initial.ID)
		if !seen {
			c.initialID = initial.ID
		}
	}
	c.cbMu.Unlock()

	c.flush(cb, pending)
	if err != nil {
		return nil, fmt.Errorf("read initial notification: %w", err)
	}
	return initial, nil
}

func (c *Coordinator) flush(cb Callback, pending []Event) {
	for _, ev := range pending {
		c.invoke(cb, ev)
	}
}

// withoutEvent removes the first event with the given id.
func withoutEvent(events []Event, id string) ([]Event, bool) {
	for i, ev := range events {
		if ev.ID == id {
			out := append(events[:i:i], events[i+1:]...)
			return out, true
		}
	}
	return events, false
}

// OnRegistered stores the token issued by the platform.
func (c *Coordinator) OnRegistered(token string) {
	defer c.recoverHandler(KindRegistered)
	metrics.IncEvent(string(KindRegistered))
	c.onOutcome(KindRegistered, RegistrationOutcome{Token: token})
}

// OnRegistrationFailed reports the failure. The current token is kept.
func (c *Coordinator) OnRegistrationFailed(err error) {
	defer c.recoverHandler(KindRegistrationFailed)
	metrics.IncEvent(string(KindRegistrationFailed))
	c.onOutcome(KindRegistrationFailed, RegistrationOutcome{Err: registrationError(err)})
}

func (c *Coordinator) onOutcome(kind EventKind, o RegistrationOutcome) {
	if o.Err == nil && strings.TrimSpace(o.Token) == "" {
		c.drop(kind, malformed("empty device token"))
		return
	}
	if !o.Succeeded() {
		c.registrationFailed(o.Err)
		return
	}

	c.mu.Lock()
	previous := c.token
	c.token = o.Token
	c.state = StateRegistered
	c.mu.Unlock()

	metrics.IncRegistration(time.Now())
	if previous == o.Token {
		logging.Get().Debug().Msg("platform re-delivered the current device token")
		return
	}
	logging.Get().Info().Str("family", c.family.Name()).Bool("rotated", previous != "").Msg("device registered for remote notifications")
	if previous != "" {
		metrics.IncRotation()
		c.report(func() { c.reporter.TokenRotated(previous, o.Token) })
	}
	c.dispatchToSinks(o.Token, previous)
}

func (c *Coordinator) registrationFailed(err error) {
	metrics.IncRegistrationFailed()
	c.mu.Lock()
	if c.token == "" {
		c.state = StateRegistrationFailed
	}
	c.mu.Unlock()

	logging.Get().Warn().Err(err).Str("family", c.family.Name()).Msg("remote notification registration failed")
	c.report(func() { c.reporter.RegistrationFailed(err) })
}

// OnReceivedForeground suppresses OS presentation; the app renders its own.
func (c *Coordinator) OnReceivedForeground(ev Event, complete func(DeliveryDecision)) {
	c.onReceived(KindReceivedForeground, ev, foregroundDecision, complete)
}

// OnReceivedBackground lets the OS alert and play a sound without touching
// the badge. Forwarding happens when the notification is opened.
func (c *Coordinator) OnReceivedBackground(ev Event, complete func(DeliveryDecision)) {
	c.onReceived(KindReceivedBackground, ev, backgroundDecision, complete)
}

func (c *Coordinator) onReceived(kind EventKind, ev Event, decision DeliveryDecision, complete func(DeliveryDecision)) {
	reply := c.decisionOnce(kind, complete)
	defer reply(decision)
	defer c.recoverHandler(kind)
	metrics.IncEvent(string(kind))

	if err := ev.Validate(); err != nil {
		c.drop(kind, err)
		return
	}
	logging.Get().Debug().Str("kind", string(kind)).Str("id", ev.ID).Msg("notification received")
}

// OnOpened forwards the notification to the callback when the family's
// policy allows it and always signals completion.
func (c *Coordinator) OnOpened(ev Event, complete func()) {
	finish := c.completionOnce(KindOpened, complete)
	defer finish()
	defer c.recoverHandler(KindOpened)
	metrics.IncEvent(string(KindOpened))

	if err := ev.Validate(); err != nil {
		c.drop(KindOpened, err)
		return
	}
	if !c.family.ForwardOnOpen(c.appState.IsBackground()) {
		metrics.IncSuppressed()
		logging.Get().Debug().Str("id", ev.ID).Msg("opened while active; not forwarded")
		return
	}
	c.forward(ev)
}

func (c *Coordinator) forward(ev Event) {
	c.cbMu.Lock()
	if c.initialID != "" && ev.ID == c.initialID {
		c.initialID = ""
		c.cbMu.Unlock()
		logging.Get().Debug().Str("id", ev.ID).Msg("opened event already returned as initial notification")
		return
	}
	cb := c.callback
	var overflow *Event
	if cb == nil || c.fetching {
		overflow = c.bufferLocked(ev)
		cb = nil
	}
	c.cbMu.Unlock()

	if cb != nil {
		c.invoke(cb, ev)
		return
	}
	if overflow != nil {
		c.drop(KindOpened, fmt.Errorf("%w: notification %s", ErrCallbackUnavailable, overflow.ID))
	}
}

// bufferLocked parks ev and returns the event evicted to make room, if any.
// While the initial notification is being read events are always kept.
// Caller must hold cbMu.
func (c *Coordinator) bufferLocked(ev Event) *Event {
	limit := c.pendingLimit
	if c.fetching && limit == 0 {
		limit = DefaultPendingLimit
	}
	if limit == 0 {
		return &ev
	}
	var evicted *Event
	if len(c.pending) >= limit {
		oldest := c.pending[0]
		evicted = &oldest
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, ev)
	metrics.IncBuffered()
	logging.Get().Debug().Str("id", ev.ID).Int("pending", len(c.pending)).Msg("no callback configured; notification buffered")
	return evicted
}

func (c *Coordinator) invoke(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.reportPanic(KindOpened, r)
		}
	}()
	cb(ev)
	metrics.IncForwarded()
}

func (c *Coordinator) decisionOnce(kind EventKind, complete func(DeliveryDecision)) func(DeliveryDecision) {
	var once sync.Once
	return func(d DeliveryDecision) {
		once.Do(func() {
			if complete == nil {
				return
			}
			defer func() {
				if r := recover(); r != nil {
					c.reportPanic(kind, r)
				}
			}()
			complete(d)
			metrics.IncCompletion(string(kind))
		})
	}
}

func (c *Coordinator) completionOnce(kind EventKind, complete func()) func() {
	reply := c.decisionOnce(kind, func(DeliveryDecision) {
		if complete != nil {
			complete()
		}
	})
	return func() { reply(DeliveryDecision{}) }
}

func (c *Coordinator) dispatchToSinks(token, previous string) {
	if len(c.sinks) == 0 {
		return
	}
	// runs are chained so sinks observe rotations in order
	c.sinkMu.Lock()
	prev := c.sinkTail
	done := make(chan struct{})
	c.sinkTail = done
	c.sinkMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		for _, s := range c.sinks {
			c.storeToken(s, token, previous)
		}
	}()
}

func (c *Coordinator) storeToken(s TokenSink, token, previous string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get().Error().Str("sink", s.Name()).Interface("panic", r).Msg("token sink panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout)
	defer cancel()
	if err := s.StoreToken(ctx, c.family.Name(), token, previous); err != nil {
		logging.Get().Error().Err(err).Str("sink", s.Name()).Msg("failed to store device token")
		return
	}
	logging.Get().Debug().Str("sink", s.Name()).Msg("device token stored")
}

// Wait blocks until in-flight token sink work finishes or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) drop(kind EventKind, err error) {
	metrics.IncDropped(dropReason(err))
	logging.Get().Warn().Err(err).Str("kind", string(kind)).Msg("event dropped")
	c.report(func() { c.reporter.EventDropped(kind, err) })
}

func (c *Coordinator) recoverHandler(kind EventKind) {
	if r := recover(); r != nil {
		c.reportPanic(kind, r)
	}
}

func (c *Coordinator) reportPanic(kind EventKind, v any) {
	err := panicError(kind, v)
	metrics.IncPanic()
	logging.Get().Error().Err(err).Str("kind", string(kind)).Msg("recovered panic in notification handler")
	c.report(func() { c.reporter.EventDropped(kind, err) })
}

// report shields the platform dispatcher from a misbehaving reporter.
func (c *Coordinator) report(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get().Error().Interface("panic", r).Msg("reporter panicked")
		}
	}()
	fn()
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrCallbackUnavailable):
		return "no_callback"
	case errors.Is(err, ErrHandlerPanic):
		return "panic"
	default:
		return "other"
	}
}

type foregrounded struct{}

func (foregrounded) IsBackground() bool { return false }

type keyLocalizer struct{}

func (keyLocalizer) T(key string) string { return key }

type nopReporter struct{}

func (nopReporter) RegistrationFailed(error)      {}
func (nopReporter) TokenRotated(string, string)   {}
func (nopReporter) EventDropped(EventKind, error) {}
