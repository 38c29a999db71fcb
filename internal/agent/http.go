package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pushhand/pushhand/internal/lifecycle"
	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/notify"
)

// Status is served by StatusHandler. The device token is masked.
type Status struct {
	InstallationID string          `json:"installation_id"`
	Family         string          `json:"family"`
	AppState       string          `json:"app_state"`
	State          string          `json:"state"`
	Registered     bool            `json:"registered"`
	DeviceToken    string          `json:"device_token,omitempty"`
	Registry       *RegistryStatus `json:"registry,omitempty"`
}

// RegistryStatus compares the local token with the shared registry.
type RegistryStatus struct {
	Synced bool   `json:"synced"`
	Stale  bool   `json:"stale"`
	Error  string `json:"error,omitempty"`
}

const registryCheckTimeout = 2 * time.Second

// StatusHandler reports the registration state and the masked device token.
func (a *Agent) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := a.coordinator
		tok := c.DeviceToken()
		st := Status{
			InstallationID: a.installationID,
			Family:         c.Family().Name(),
			AppState:       string(a.currentAppState()),
			State:          c.State().String(),
			Registered:     tok != "",
			DeviceToken:    notify.MaskToken(tok),
		}
		if a.registry != nil && tok != "" {
			ctx, cancel := context.WithTimeout(r.Context(), registryCheckTimeout)
			st.Registry = a.registryStatus(ctx, tok)
			cancel()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
}

func (a *Agent) currentAppState() lifecycle.State {
	switch s := a.appState.(type) {
	case nil:
		return lifecycle.Active
	case interface{ State() lifecycle.State }:
		return s.State()
	default:
		if s.IsBackground() {
			return lifecycle.Background
		}
		return lifecycle.Active
	}
}

func (a *Agent) registryStatus(ctx context.Context, tok string) *RegistryStatus {
	rs := &RegistryStatus{}
	current, err := a.registry.CurrentToken(ctx)
	if err == nil {
		rs.Synced = current == tok
		rs.Stale, err = a.registry.IsStale(ctx, tok)
	}
	if err != nil {
		logging.Get().Warn().Err(err).Msg("registry status check failed")
		rs.Error = err.Error()
	}
	return rs
}

// BadgeHandler applies the badge count given as ?count=N. Without a count
// the request is a no-op.
func (a *Agent) BadgeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var count *int
		if v := r.URL.Query().Get("count"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "count must be an integer", http.StatusBadRequest)
				return
			}
			count = &n
		}
		if err := a.coordinator.SetBadgeCount(r.Context(), count); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
