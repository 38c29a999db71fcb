// Package bridge connects the native device shell to the coordinator over a
// WebSocket. It implements push.PlatformService: outbound requests become
// frames sent to the shell and inbound frames become handler calls.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pushhand/pushhand/internal/lifecycle"
	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/push"
)

// Frame types exchanged with the shell.
const (
	TypeHello              = "hello"
	TypeAppState           = "app_state"
	TypeRegistered         = "registered"
	TypeRegistrationFailed = "registration_failed"
	TypeReceivedForeground = "received_foreground"
	TypeReceivedBackground = "received_background"
	TypeOpened             = "opened"

	TypeRegisterRemote = "register_remote"
	TypeSetCategories  = "set_categories"
	TypeSetBadgeCount  = "set_badge_count"
	TypeCompletion     = "completion"
)

const (
	writeWait      = 5 * time.Second
	maxFrameSize   = 64 << 10
	dispatchBuffer = 64
)

// ErrClosed is returned once the server has been closed.
var ErrClosed = errors.New("bridge: closed")

// Frame is one JSON message on the bridge socket.
type Frame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	Platform            string      `json:"platform,omitempty"`
	AppState            string      `json:"app_state,omitempty"`
	InitialNotification *push.Event `json:"initial_notification,omitempty"`

	DeviceToken  string      `json:"device_token,omitempty"`
	Error        string      `json:"error,omitempty"`
	Notification *push.Event `json:"notification,omitempty"`

	Categories []push.Category        `json:"categories,omitempty"`
	Count      *int                   `json:"count,omitempty"`
	Decision   *push.DeliveryDecision `json:"decision,omitempty"`
}

// Hello is what the shell reported when it first connected.
type Hello struct {
	Platform string
	AppState lifecycle.State
}

// Option customizes a Server.
type Option func(*Server)

// WithAppState sets the tracker updated from hello and app_state frames.
func WithAppState(t *lifecycle.Tracker) Option {
	return func(s *Server) {
		if t != nil {
			s.appState = t
		}
	}
}

// WithAllowedOrigins restricts upgrades carrying an Origin header to the
// given origins. Requests without an Origin header come from the native
// shell and are always accepted. No origins keeps the default.
func WithAllowedOrigins(origins ...string) Option {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o = normalizeOrigin(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(s *Server) {
		if len(allowed) == 0 {
			return
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[normalizeOrigin(origin)]
			if !ok {
				log := logging.Component("bridge")
				log.Warn().Str("origin", origin).Msg("rejected bridge connection from unknown origin")
			}
			return ok
		}
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

// Server accepts one shell connection at a time. A new connection replaces
// the previous one and receives the desired platform state again.
type Server struct {
	upgrader websocket.Upgrader
	appState *lifecycle.Tracker

	mu         sync.Mutex
	current    *session
	handler    push.EventHandler
	register   bool
	categories []push.Category
	badge      *int
	hello      Hello
	helloSeen  bool
	initial    *push.Event

	helloCh    chan struct{}
	subscribed chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewServer returns a bridge server. Mount it on an HTTP mux.
func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the shell is a local process, not a browser
			CheckOrigin: func(*http.Request) bool { return true },
		},
		appState:   lifecycle.NewTracker(lifecycle.Active),
		helloCh:    make(chan struct{}),
		subscribed: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppState returns the lifecycle tracker fed by the shell.
func (s *Server) AppState() *lifecycle.Tracker { return s.appState }

// Connected reports whether a shell is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// RegisterRemoteNotifications asks the shell to register with the platform
// push service. The request is replayed on reconnect.
func (s *Server) RegisterRemoteNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.register = true
	return s.sendLocked(Frame{Type: TypeRegisterRemote})
}

// SetCategories declares notification categories on the shell.
func (s *Server) SetCategories(ctx context.Context, categories []push.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append([]push.Category(nil), categories...)
	return s.sendLocked(Frame{Type: TypeSetCategories, Categories: s.categories})
}

// SetBadgeCount sets the application badge on the shell.
func (s *Server) SetBadgeCount(ctx context.Context, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badge = &count
	return s.sendLocked(Frame{Type: TypeSetBadgeCount, Count: &count})
}

// Subscribe installs the handler for inbound platform events. Only one
// handler may be installed.
func (s *Server) Subscribe(h push.EventHandler) error {
	if h == nil {
		return errors.New("bridge: nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return errors.New("bridge: handler already subscribed")
	}
	s.handler = h
	close(s.subscribed)
	return nil
}

// InitialNotification waits for the first hello and returns the notification
// that launched the app, if any.
func (s *Server) InitialNotification(ctx context.Context) (*push.Event, error) {
	if err := s.waitHello(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial == nil {
		return nil, nil
	}
	ev := *s.initial
	return &ev, nil
}

// WaitHello blocks until the shell introduced itself.
func (s *Server) WaitHello(ctx context.Context) (Hello, error) {
	if err := s.waitHello(ctx); err != nil {
		return Hello{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hello, nil
}

func (s *Server) waitHello(ctx context.Context) error {
	select {
	case <-s.helloCh:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for shell hello: %w", ctx.Err())
	}
}

// Close drops the current connection and releases waiters.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil {
		return cur.close()
	}
	return nil
}

// ServeHTTP upgrades the request and serves the shell until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closed:
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get().Warn().Err(err).Str("remote", r.RemoteAddr).Msg("bridge upgrade failed")
		return
	}
	sess := &session{
		id:    uuid.NewString(),
		conn:  conn,
		queue: make(chan Frame, dispatchBuffer),
	}
	log := logging.Component("bridge").With().Str("session", sess.id).Logger()

	s.mu.Lock()
	old := s.current
	s.current = sess
	s.replayLocked(sess)
	s.mu.Unlock()
	if old != nil {
		log.Info().Str("replaced", old.id).Msg("shell reconnected; dropping previous session")
		_ = old.close()
	}
	log.Info().Str("remote", r.RemoteAddr).Msg("shell connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.dispatch(sess)
	}()
	s.readLoop(sess)
	close(sess.queue)
	<-done

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()
	_ = sess.close()
	log.Info().Msg("shell disconnected")
}

// replayLocked sends the desired platform state to a fresh session.
func (s *Server) replayLocked(sess *session) {
	var frames []Frame
	if len(s.categories) > 0 {
		frames = append(frames, Frame{Type: TypeSetCategories, Categories: s.categories})
	}
	if s.register {
		frames = append(frames, Frame{Type: TypeRegisterRemote})
	}
	if s.badge != nil {
		n := *s.badge
		frames = append(frames, Frame{Type: TypeSetBadgeCount, Count: &n})
	}
	for _, f := range frames {
		if err := sess.send(f); err != nil {
			logging.Get().Warn().Err(err).Str("session", sess.id).Str("type", f.Type).Msg("failed to replay frame")
			return
		}
	}
}

// sendLocked writes to the current session. Without one the frame is
// delivered by the next replay.
func (s *Server) sendLocked(f Frame) error {
	if s.current == nil {
		logging.Get().Debug().Str("type", f.Type).Msg("no shell connected; frame deferred until reconnect")
		return nil
	}
	if err := s.current.send(f); err != nil {
		return fmt.Errorf("send %s: %w", f.Type, err)
	}
	return nil
}

func (s *Server) readLoop(sess *session) {
	sess.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Get().Warn().Err(err).Str("session", sess.id).Msg("bridge read failed")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Get().Warn().Err(err).Str("session", sess.id).Msg("ignoring malformed frame")
			continue
		}
		select {
		case sess.queue <- f:
		case <-s.closed:
			return
		}
	}
}

// dispatch handles frames of one session in arrival order, off the read loop.
func (s *Server) dispatch(sess *session) {
	for f := range sess.queue {
		s.handle(sess, f)
	}
}

func (s *Server) handle(sess *session, f Frame) {
	switch f.Type {
	case TypeHello:
		s.onHello(f)
	case TypeAppState:
		s.setAppState(f.AppState)
	case TypeRegistered:
		if h := s.waitHandler(); h != nil {
			h.OnRegistered(f.DeviceToken)
		}
	case TypeRegistrationFailed:
		if h := s.waitHandler(); h != nil {
			msg := f.Error
			if msg == "" {
				msg = "unspecified platform error"
			}
			h.OnRegistrationFailed(errors.New(msg))
		}
	case TypeReceivedForeground, TypeReceivedBackground:
		ev := eventOf(f)
		ev.Foreground = f.Type == TypeReceivedForeground
		kind := push.KindReceivedBackground
		if ev.Foreground {
			kind = push.KindReceivedForeground
		}
		complete := func(d push.DeliveryDecision) {
			sess.complete(Frame{Type: TypeCompletion, Ref: f.Ref, Decision: &d})
		}
		h := s.waitHandler()
		if h == nil {
			complete(push.DefaultDecision(kind))
			return
		}
		if ev.Foreground {
			h.OnReceivedForeground(ev, complete)
		} else {
			h.OnReceivedBackground(ev, complete)
		}
	case TypeOpened:
		ev := eventOf(f)
		complete := func() { sess.complete(Frame{Type: TypeCompletion, Ref: f.Ref}) }
		h := s.waitHandler()
		if h == nil {
			complete()
			return
		}
		h.OnOpened(ev, complete)
	default:
		logging.Get().Warn().Str("session", sess.id).Str("type", f.Type).Msg("ignoring unknown frame type")
	}
}

func (s *Server) onHello(f Frame) {
	s.mu.Lock()
	s.hello.Platform = f.Platform
	first := !s.helloSeen
	if first {
		s.helloSeen = true
		s.initial = f.InitialNotification
	}
	s.mu.Unlock()

	if f.AppState != "" {
		s.setAppState(f.AppState)
	}
	s.mu.Lock()
	s.hello.AppState = s.appState.State()
	s.mu.Unlock()
	if first {
		close(s.helloCh)
	}
	logging.Get().Info().Str("platform", f.Platform).Bool("cold_start", f.InitialNotification != nil).Msg("shell hello")
}

func (s *Server) setAppState(raw string) {
	st, err := lifecycle.ParseState(raw)
	if err != nil {
		logging.Get().Warn().Err(err).Msg("ignoring app state")
		return
	}
	s.appState.Set(st)
}

// waitHandler blocks until a handler is subscribed or the server closes.
func (s *Server) waitHandler() push.EventHandler {
	select {
	case <-s.subscribed:
	case <-s.closed:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func eventOf(f Frame) push.Event {
	if f.Notification == nil {
		return push.Event{}
	}
	return *f.Notification
}

type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	queue   chan Frame
}

func (s *session) send(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *session) complete(f Frame) {
	if err := s.send(f); err != nil {
		logging.Get().Warn().Err(err).Str("session", s.id).Str("ref", f.Ref).Msg("failed to deliver completion")
	}
}

func (s *session) close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
