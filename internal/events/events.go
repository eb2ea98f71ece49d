// Package events publishes a message on NATS after every job run so other
// services can react to fresh flight data or indicators.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Run outcomes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event describes one finished job run.
type Event struct {
	Job        string         `json:"job"`
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subject returns "<prefix>.<job>".
func Subject(prefix, job string) string {
	if prefix == "" {
		return job
	}
	return prefix + "." + job
}

// NATSPublisher publishes events as JSON on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS server at url. The connection reconnects forever.
func Connect(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("flight-radar"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Publish sends ev on the subject of its job.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.nc.Publish(Subject(p.prefix, ev.Job), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Job, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// Noop discards events. Used when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
