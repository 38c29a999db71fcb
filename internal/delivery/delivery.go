// Package delivery hands opened notifications to the rest of the system.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pushhand/pushhand/internal/logging"
	"github.com/pushhand/pushhand/internal/push"
)

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	Publish(subj string, data []byte) error
}

// Message is the payload published for each opened notification.
type Message struct {
	InstallationID string     `json:"installation_id,omitempty"`
	Family         string     `json:"family"`
	DeliveredAt    time.Time  `json:"delivered_at"`
	Reply          bool       `json:"reply"`
	Notification   push.Event `json:"notification"`
}

// Publisher publishes opened notifications to NATS subjects.
type Publisher struct {
	conn           publisher
	subject        string
	replySubject   string
	family         string
	installationID string
	now            func() time.Time
}

// Connect dials NATS and returns the connection. The caller closes it.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("pushhand"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Get().Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Get().Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NewPublisher builds a publisher. replySubject may be empty to skip the
// separate quick-reply stream.
func NewPublisher(conn publisher, subject, replySubject, family, installationID string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("delivery: nats connection is required")
	}
	if subject == "" {
		return nil, errors.New("delivery: subject is required")
	}
	return &Publisher{
		conn:           conn,
		subject:        subject,
		replySubject:   replySubject,
		family:         family,
		installationID: installationID,
		now:            time.Now,
	}, nil
}

// Publish sends ev to the notification subject and, for quick replies, to
// the reply subject.
func (p *Publisher) Publish(ev push.Event) error {
	msg := Message{
		InstallationID: p.installationID,
		Family:         p.family,
		DeliveredAt:    p.now().UTC(),
		Reply:          ev.IsReply(),
		Notification:   ev,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", ev.ID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	if msg.Reply && p.replySubject != "" {
		if err := p.conn.Publish(p.replySubject, data); err != nil {
			return fmt.Errorf("publish %s: %w", p.replySubject, err)
		}
	}
	return nil
}

// Callback adapts the publisher to push.Callback. Publish failures are logged.
func (p *Publisher) Callback() push.Callback {
	return func(ev push.Event) {
		if err := p.Publish(ev); err != nil {
			logging.Get().Error().Err(err).Str("id", ev.ID).Msg("failed to deliver notification")
			return
		}
		logging.Get().Debug().Str("id", ev.ID).Bool("reply", ev.IsReply()).Msg("notification delivered")
	}
}

// LogCallback is used when no broker is configured.
func LogCallback(ev push.Event) {
	logging.Get().Info().
		Str("id", ev.ID).
		Str("title", ev.Title).
		Str("category", ev.Category).
		Bool("reply", ev.IsReply()).
		Msg("notification opened")
}
