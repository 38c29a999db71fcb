// Package notify sends operator alerts about the push coordinator to chat,
// webhook and mail backends.
package notify

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pushhand/pushhand/internal/logging"
)

// DefaultCooldown suppresses an identical alert to the same service.
var DefaultCooldown = 10 * time.Minute

// retry settings (can be tuned in tests)
var maxRetries = 3
var baseBackoff = 200 * time.Millisecond

// backoffJitter adds up to this random duration to backoff
var backoffJitter = 50 * time.Millisecond

// sleepHook is used in tests to avoid sleeping for real
var sleepHook = time.Sleep

// Service is the interface all alert backends implement
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Dispatcher fans alerts out to every service with retries, a per-alert
// cooldown and a per-service rate limit.
type Dispatcher struct {
	services []Service
	limiters map[string]*rate.Limiter
	// lastSent tracks the last successful send per service and title
	lastSent map[string]time.Time
	cooldown time.Duration
	perMin   int
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewDispatcher returns a dispatcher allowing perMinute alerts per service.
// perMinute <= 0 disables rate limiting.
func NewDispatcher(perMinute int) *Dispatcher {
	return &Dispatcher{
		limiters: make(map[string]*rate.Limiter),
		lastSent: make(map[string]time.Time),
		cooldown: DefaultCooldown,
		perMin:   perMinute,
	}
}

// Add registers a service. nil is ignored.
func (d *Dispatcher) Add(s Service) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = append(d.services, s)
	if d.perMin > 0 {
		d.limiters[s.Name()] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(d.perMin)), d.perMin)
	}
}

// Len returns the number of registered services.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.services)
}

// SetCooldown adjusts the cooldown for repeated alerts.
func (d *Dispatcher) SetCooldown(c time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = c
}

// Wait waits for pending sends to complete or until ctx is cancelled.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers an alert to all services asynchronously.
func (d *Dispatcher) Send(ctx context.Context, title, message string) {
	d.mu.Lock()
	services := append([]Service(nil), d.services...)
	d.mu.Unlock()

	now := time.Now()
	for _, s := range services {
		name := s.Name()
		d.wg.Add(1)
		go func(svc Service, svcName string) {
			defer d.wg.Done()
			if d.inCooldown(svcName, title, now) {
				logging.Get().Debug().Str("service", svcName).Str("title", title).Msg("skipping alert due to cooldown")
				return
			}
			if !d.allow(svcName) {
				logging.Get().Warn().Str("service", svcName).Msg("alert rate limit reached; dropping alert")
				return
			}
			if err := d.sendWithRetries(ctx, svc, title, message, svcName); err != nil {
				logging.Get().Error().Err(err).Str("service", svcName).Msg("all alert retries failed")
			}
		}(s, name)
	}
}

func cooldownKey(service, title string) string { return service + "\x00" + title }

func (d *Dispatcher) inCooldown(name, title string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSent[cooldownKey(name, title)]
	return ok && now.Sub(last) < d.cooldown
}

func (d *Dispatcher) allow(name string) bool {
	d.mu.Lock()
	l := d.limiters[name]
	d.mu.Unlock()
	return l == nil || l.Allow()
}

// sendWithRetries attempts to send an alert with retries and backoff. Returns last error if any.
func (d *Dispatcher) sendWithRetries(ctx context.Context, s Service, title, message, name string) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := s.Send(ctx, title, message)
		if err == nil {
			d.mu.Lock()
			d.lastSent[cooldownKey(name, title)] = time.Now()
			d.mu.Unlock()
			logging.Get().Debug().Str("service", name).Msg("alert sent")
			return nil
		}
		lastErr = err
		logging.Get().Warn().Err(err).Str("service", name).Int("attempt", attempt).Msg("alert attempt failed")
		if attempt == maxRetries {
			break
		}
		slept := make(chan struct{})
		go func(wait time.Duration) {
			sleepHook(wait)
			close(slept)
		}(backoffDuration(attempt))
		select {
		case <-slept:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoffDuration returns the backoff for attempt including optional jitter
func backoffDuration(attempt int) time.Duration {
	d := baseBackoff * time.Duration(1<<uint(attempt-1))
	if backoffJitter > 0 {
		max := big.NewInt(int64(backoffJitter))
		if n, err := crand.Int(crand.Reader, max); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}
