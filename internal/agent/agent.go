// Package agent wires the push coordinator to its collaborators.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pushhand/pushhand/internal/config"
	"github.com/pushhand/pushhand/internal/delivery"
	"github.com/pushhand/pushhand/internal/i18n"
	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/notify"
	"github.com/pushhand/pushhand/internal/push"
	"github.com/pushhand/pushhand/internal/state"
)

// Agent owns one coordinator and the alerting and persistence around it.
type Agent struct {
	cfg            *config.Config
	platform       push.PlatformService
	appState       push.AppState
	localizer      push.Localizer
	callback       push.Callback
	extraSinks     []push.TokenSink
	registry       TokenRegistry
	installationID string

	coordinator *push.Coordinator
	notifier    *notify.Dispatcher
	ctx         context.Context
	cancel      context.CancelFunc
}

// Option customizes an Agent.
type Option func(*Agent)

// WithCallback sets where opened notifications are delivered. The default
// logs them.
func WithCallback(cb push.Callback) Option {
	return func(a *Agent) { a.callback = cb }
}

// WithTokenSinks adds token sinks next to the state file.
func WithTokenSinks(sinks ...push.TokenSink) Option {
	return func(a *Agent) { a.extraSinks = append(a.extraSinks, sinks...) }
}

// TokenRegistry is a shared store the status endpoint checks the local
// token against.
type TokenRegistry interface {
	CurrentToken(ctx context.Context) (string, error)
	IsStale(ctx context.Context, token string) (bool, error)
}

// WithRegistry reports the registry view of the token in StatusHandler.
func WithRegistry(r TokenRegistry) Option {
	return func(a *Agent) { a.registry = r }
}

// WithInstallationID overrides the id otherwise read from config or the
// state file.
func WithInstallationID(id string) Option {
	return func(a *Agent) { a.installationID = id }
}

// New builds an agent for cfg.Platform.
func New(cfg *config.Config, platform push.PlatformService, appState push.AppState, opts ...Option) (*Agent, error) {
	family, err := push.LookupFamily(cfg.Platform)
	if err != nil {
		return nil, err
	}
	a := &Agent{cfg: cfg, platform: platform, appState: appState, callback: delivery.LogCallback}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	// Log config validation warnings
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}

	if cfg.StateDir != "" {
		state.SetDir(cfg.StateDir)
	}
	if err := a.resolveInstallationID(); err != nil {
		return nil, err
	}
	cat, err := i18n.New(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("load localization catalog: %w", err)
	}
	a.localizer = cat

	a.initNotifiers()
	reporter := notify.NewReporter(a.ctx, a.notifier, cfg.NotificationLevel, a.installationID)

	sinks := append([]push.TokenSink{state.NewSink()}, a.extraSinks...)
	a.coordinator, err = push.New(platform, family, appState, a.localizer,
		push.WithReporter(reporter),
		push.WithTokenSinks(sinks...),
		push.WithPendingLimit(cfg.PendingLimit),
		push.WithSinkTimeout(cfg.SinkTimeout),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) resolveInstallationID() error {
	if a.installationID != "" {
		return nil
	}
	if a.cfg.InstallationID != "" {
		a.installationID = a.cfg.InstallationID
		return nil
	}
	id, err := state.InstallationID()
	if err != nil {
		return fmt.Errorf("resolve installation id: %w", err)
	}
	a.installationID = id
	return nil
}

// initNotifiers registers every configured alert backend
func (a *Agent) initNotifiers() {
	a.notifier = notify.NewDispatcher(a.cfg.AlertRatePerMinute)
	a.notifier.SetCooldown(a.cfg.AlertCooldown)
	cfg := a.cfg
	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.WebhookURL != "", func() { a.notifier.Add(&notify.Webhook{URL: cfg.WebhookURL}) }},
		{cfg.SlackWebhook != "", func() { a.notifier.Add(&notify.Slack{WebhookURL: cfg.SlackWebhook}) }},
		{cfg.GotifyURL != "" && cfg.GotifyToken != "", func() { a.notifier.Add(&notify.Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken}) }},
		{cfg.EmailHost != "" && len(cfg.EmailTo) > 0, func() {
			a.notifier.Add(&notify.Email{Host: cfg.EmailHost, Port: cfg.EmailPort, User: cfg.EmailUser, Pass: cfg.EmailPass, From: cfg.EmailFrom, To: cfg.EmailTo})
		}},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
}

// InstallationID returns the id this installation is known by.
func (a *Agent) InstallationID() string { return a.installationID }

// Notifier returns the alert dispatcher.
func (a *Agent) Notifier() *notify.Dispatcher { return a.notifier }

// Start registers with the platform and installs the delivery callback. A
// cold-start notification is handed to the callback once.
func (a *Agent) Start(ctx context.Context) error {
	logging.Get().Info().
		Str("family", a.coordinator.Family().Name()).
		Str("installation", a.installationID).
		Int("alert_services", a.notifier.Len()).
		Msg("starting pushhand agent")

	if err := a.coordinator.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize coordinator: %w", err)
	}

	wait := a.cfg.InitialNotificationTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	initCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	initial, err := a.coordinator.Configure(initCtx, a.callback)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logging.Get().Info().Dur("waited", wait).Msg("shell did not report a launch notification")
	case err != nil:
		logging.Get().Warn().Err(err).Msg("failed to read launch notification")
	case initial != nil:
		logging.Get().Info().Str("id", initial.ID).Msg("app launched from notification")
		a.callback(*initial)
	}
	return nil
}

// Stop waits for in-flight token sink and alert work.
func (a *Agent) Stop(ctx context.Context) {
	if err := a.coordinator.Wait(ctx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for token sinks")
	}
	if err := a.notifier.Wait(ctx); err != nil {
		logging.Get().Warn().Err(err).Msg("timed out waiting for notifiers to finish")
	}
	a.cancel()
	logging.Get().Info().Msg("pushhand agent stopped")
}
