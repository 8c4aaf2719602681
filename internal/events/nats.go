// Package events publishes observed job transitions to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fivetwenty-io/sfbulk/internal/constants"
	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher implements sfbulk.JobEventPublisher on top of a NATS connection.
type Publisher struct {
	conn   Conn
	prefix string
	flush  bool
}

var _ sfbulk.JobEventPublisher = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix changes the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		p.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// WithFlush waits for the server to acknowledge each publish.
func WithFlush() Option {
	return func(p *Publisher) {
		p.flush = true
	}
}

// NewPublisher wraps an established connection.
func NewPublisher(conn Conn, opts ...Option) *Publisher {
	publisher := &Publisher{conn: conn, prefix: constants.DefaultEventSubjectPrefix}
	for _, opt := range opts {
		opt(publisher)
	}

	return publisher
}

// Connect dials a NATS server and returns a publisher that owns the connection.
func Connect(url string, opts ...Option) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("sfbulk"),
		nats.Timeout(constants.ShortHTTPTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return NewPublisher(conn, opts...), nil
}

// Subject returns the subject a job event is published on.
func (p *Publisher) Subject(event sfbulk.JobEvent) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.Kind, event.JobID)
}

// PublishJobEvent encodes event as JSON and publishes it.
func (p *Publisher) PublishJobEvent(ctx context.Context, event sfbulk.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding job event: %w", err)
	}

	err = p.conn.Publish(p.Subject(event), data)
	if err != nil {
		return fmt.Errorf("publishing job event: %w", err)
	}

	if p.flush {
		err = p.conn.FlushWithContext(ctx)
		if err != nil {
			return fmt.Errorf("flushing job event: %w", err)
		}
	}

	return nil
}

// Close releases the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
