package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pushhand/pushhand/internal/logging"
)

// StartInfluxPusher pushes a metrics snapshot to InfluxDB every interval
// until ctx is cancelled.
func StartInfluxPusher(ctx context.Context, baseURL, token, org, bucket string, interval time.Duration) {
	if baseURL == "" || bucket == "" {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	logging.Get().Info().Str("url", baseURL).Dur("interval", interval).Msg("starting influxdb pusher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	writeURL := influxWriteURL(baseURL, org, bucket)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pushToInflux(ctx, client, writeURL, token, time.Now())
		}
	}
}

func influxWriteURL(baseURL, org, bucket string) string {
	q := url.Values{}
	q.Set("org", org)
	q.Set("bucket", bucket)
	q.Set("precision", "s")
	return strings.TrimRight(baseURL, "/") + "/api/v2/write?" + q.Encode()
}

// lineProtocol renders a snapshot as one Influx line.
// Example: pushhand registrations=1i,forwarded=4i 1678888888
func lineProtocol(s StatsSnapshot, now time.Time) string {
	return fmt.Sprintf(
		"pushhand registrations=%di,registrations_failed=%di,rotations=%di,events=%di,forwarded=%di,suppressed=%di,dropped=%di,panics=%di %d",
		s.Registrations, s.RegistrationsFailed, s.Rotations, s.EventsReceived, s.Forwarded, s.Suppressed, s.Dropped, s.Panics, now.Unix(),
	)
}

func pushToInflux(ctx context.Context, client *http.Client, writeURL, token string, now time.Time) {
	body := lineProtocol(GetSnapshot(), now)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader([]byte(body)))
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb request creation failed")
		return
	}
	req.Header.Set("Authorization", "Token "+token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Get().Warn().Int("status", resp.StatusCode).Msg("influxdb rejected metrics")
	}
}
