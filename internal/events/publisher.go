// Package events forwards committed change log entries to NATS subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kiyo123456/Tatemoku-management/internal/persistence"
)

// DefaultSubjectPrefix prefixes every change subject; the action name is appended.
const DefaultSubjectPrefix = "tatemoku.changes"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Connect dials NATS with reconnect handling that logs through the given logger.
func Connect(opts ConnectOptions) (*nats.Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 60
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", opts.URL, err)
	}
	return conn, nil
}

// Publisher publishes each change log entry as JSON on "<prefix>.<action>".
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher constructs a Publisher. An empty prefix uses DefaultSubjectPrefix.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// ChangeEvent is the message body published for one change log entry.
type ChangeEvent struct {
	ID            string                    `json:"id"`
	Action        persistence.ChangeAction  `json:"action"`
	ParticipantID *string                   `json:"participantId,omitempty"`
	From          *persistence.ContainerRef `json:"from,omitempty"`
	To            *persistence.ContainerRef `json:"to,omitempty"`
	ActorID       string                    `json:"actorId"`
	Details       json.RawMessage           `json:"details,omitempty"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

// Subject returns the subject an action is published on.
func (p *Publisher) Subject(action persistence.ChangeAction) string {
	return p.prefix + "." + string(action)
}

// PublishChanges implements application.ChangePublisher. Entries are published in order and
// publishing stops at the first failure.
func (p *Publisher) PublishChanges(ctx context.Context, entries []persistence.ChangeLogEntry) error {
	if p == nil || p.conn == nil {
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(ChangeEvent{
			ID:            entry.ID,
			Action:        entry.Action,
			ParticipantID: entry.ParticipantID,
			From:          entry.From,
			To:            entry.To,
			ActorID:       entry.ActorID,
			Details:       entry.Details,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("encode change %s: %w", entry.ID, err)
		}
		subject := p.Subject(entry.Action)
		if err := p.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("publish change %s on %s: %w", entry.ID, subject, err)
		}
		p.logger.DebugContext(ctx, "published change", "subject", subject, "entry_id", entry.ID)
	}
	return nil
}
