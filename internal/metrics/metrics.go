// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting pushhand coordinator metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 1. Internal State (Source of Truth)
var (
	registrations       int64
	registrationsFailed int64
	rotations           int64
	eventsReceived      int64
	forwarded           int64
	suppressed          int64
	buffered            int64
	dropped             int64
	panics              int64
	badgeUpdates        int64
	completions         int64
	lastRegistration    int64
)

const counterInc int64 = 1

// 2. Prometheus Collectors
var (
	promRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushhand_registrations_total",
			Help: "Registration outcomes reported by the platform push service",
		},
		[]string{"outcome"},
	)
	promRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_token_rotations_total",
			Help: "Device token changes after the first registration",
		},
	)
	promEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushhand_events_total",
			Help: "Platform events received by kind",
		},
		[]string{"kind"},
	)
	promForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_forwarded_total",
			Help: "Notifications handed to the application callback",
		},
	)
	promSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_open_suppressed_total",
			Help: "Opened notifications not forwarded because the app was active",
		},
	)
	promBuffered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_buffered_total",
			Help: "Notifications buffered while no callback was configured",
		},
	)
	promDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushhand_dropped_total",
			Help: "Events dropped by the coordinator",
		},
		[]string{"reason"},
	)
	promPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_handler_panics_total",
			Help: "Panics recovered inside event handlers or the application callback",
		},
	)
	promBadgeUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushhand_badge_updates_total",
			Help: "Badge counts applied on the platform",
		},
	)
	promCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushhand_completions_total",
			Help: "Completion signals returned to the platform by kind",
		},
		[]string{"kind"},
	)
	promLastRegistration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushhand_last_registration_timestamp_seconds",
			Help: "Unix timestamp of the last successful registration",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promRegistrations,
		promRotations,
		promEvents,
		promForwarded,
		promSuppressed,
		promBuffered,
		promDropped,
		promPanics,
		promBadgeUpdates,
		promCompletions,
		promLastRegistration,
	)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncRegistration records a successful registration at t.
func IncRegistration(t time.Time) {
	atomic.AddInt64(&registrations, counterInc)
	atomic.StoreInt64(&lastRegistration, t.Unix())
	promRegistrations.WithLabelValues("success").Inc()
	promLastRegistration.Set(float64(t.Unix()))
}

// IncRegistrationFailed records a failed registration attempt.
func IncRegistrationFailed() {
	atomic.AddInt64(&registrationsFailed, counterInc)
	promRegistrations.WithLabelValues("failure").Inc()
}

// IncRotation records a device token change.
func IncRotation() {
	atomic.AddInt64(&rotations, counterInc)
	promRotations.Inc()
}

// IncEvent records a platform event of the given kind.
func IncEvent(kind string) {
	atomic.AddInt64(&eventsReceived, counterInc)
	promEvents.WithLabelValues(kind).Inc()
}

// IncForwarded records a notification handed to the application callback.
func IncForwarded() {
	atomic.AddInt64(&forwarded, counterInc)
	promForwarded.Inc()
}

// IncSuppressed records an opened notification withheld from the callback.
func IncSuppressed() {
	atomic.AddInt64(&suppressed, counterInc)
	promSuppressed.Inc()
}

// IncBuffered records a notification parked until a callback is configured.
func IncBuffered() {
	atomic.AddInt64(&buffered, counterInc)
	promBuffered.Inc()
}

// IncDropped records an event dropped for reason.
func IncDropped(reason string) {
	atomic.AddInt64(&dropped, counterInc)
	promDropped.WithLabelValues(reason).Inc()
}

// IncPanic records a recovered handler panic.
func IncPanic() {
	atomic.AddInt64(&panics, counterInc)
	promPanics.Inc()
}

// IncBadgeUpdate records a badge count pushed to the platform.
func IncBadgeUpdate() {
	atomic.AddInt64(&badgeUpdates, counterInc)
	promBadgeUpdates.Inc()
}

// IncCompletion records a completion signal for an event kind.
func IncCompletion(kind string) {
	atomic.AddInt64(&completions, counterInc)
	promCompletions.WithLabelValues(kind).Inc()
}

// 4. JSON Snapshot Struct

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Registrations         int64  `json:"registrations"`
	RegistrationsFailed   int64  `json:"registrations_failed"`
	Rotations             int64  `json:"rotations"`
	EventsReceived        int64  `json:"events_received"`
	Forwarded             int64  `json:"forwarded"`
	Suppressed            int64  `json:"suppressed"`
	Buffered              int64  `json:"buffered"`
	Dropped               int64  `json:"dropped"`
	Panics                int64  `json:"panics"`
	BadgeUpdates          int64  `json:"badge_updates"`
	Completions           int64  `json:"completions"`
	LastRegistration      int64  `json:"last_registration_timestamp"`
	LastRegistrationHuman string `json:"last_registration_human"`
}

// GetSnapshot returns the current values of all internal counters.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastRegistration)
	human := ""
	if ts > 0 {
		human = time.Unix(ts, 0).Format(time.RFC3339)
	}
	return StatsSnapshot{
		Registrations:         atomic.LoadInt64(&registrations),
		RegistrationsFailed:   atomic.LoadInt64(&registrationsFailed),
		Rotations:             atomic.LoadInt64(&rotations),
		EventsReceived:        atomic.LoadInt64(&eventsReceived),
		Forwarded:             atomic.LoadInt64(&forwarded),
		Suppressed:            atomic.LoadInt64(&suppressed),
		Buffered:              atomic.LoadInt64(&buffered),
		Dropped:               atomic.LoadInt64(&dropped),
		Panics:                atomic.LoadInt64(&panics),
		BadgeUpdates:          atomic.LoadInt64(&badgeUpdates),
		Completions:           atomic.LoadInt64(&completions),
		LastRegistration:      ts,
		LastRegistrationHuman: human,
	}
}

// 5. Handlers

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
