package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventSink = (*NATSSink)(nil)

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// Subject is the base subject; events publish to Subject + "." + type.
	Subject string

	// ConnectTimeout is the connection timeout.
	ConnectTimeout time.Duration
}

// NATSSink publishes events to NATS so other systems can react to deliveries
// and failures without polling herald.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to NATS. The connection retries in the background, so
// a NATS outage at startup does not block herald.
func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "herald.events"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSSink{conn: conn, subject: cfg.Subject}, nil
}

// Emit publishes the event as JSON to "<subject>.<event type>".
func (s *NATSSink) Emit(_ context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.conn.Publish(fmt.Sprintf("%s.%s", s.subject, ev.Type), data)
}

// Close closes the NATS connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
