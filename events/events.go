// Package events publishes index lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Event types.
const (
	TypeIndexed      = "indexed"
	TypeIndexFailed  = "index_failed"
	TypeRemoved      = "removed"
	TypeMarkedStale  = "stale"
	TypeRefreshStart = "refresh_started"
)

// IndexEvent describes a change to a repository index.
type IndexEvent struct {
	Type       string    `json:"type"`
	RepoID     string    `json:"repo_id"`
	RepoDir    string    `json:"repo_dir"`
	Generation uint64    `json:"generation,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher delivers index events. Publishing never fails an index
// operation; implementations log delivery problems.
type Publisher interface {
	Publish(ctx context.Context, ev IndexEvent)
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, IndexEvent) {}

func (Nop) Close() error { return nil }

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATSPublisher sends events as JSON to <subject>.<type>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("reposcope"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// NewMessage builds the NATS message for ev, carrying the trace context of ctx.
func NewMessage(ctx context.Context, subject string, ev IndexEvent) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{
		Subject: subject + "." + ev.Type,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, ev IndexEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	msg, err := NewMessage(ctx, p.subject, ev)
	if err != nil {
		log.Printf("Warning: failed to encode %s event for %s: %v", ev.Type, ev.RepoID, err)
		return
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		log.Printf("Warning: failed to publish %s event for %s: %v", ev.Type, ev.RepoID, err)
	}
}

func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// New returns a NATS publisher when url is set and Nop otherwise.
func New(url, subject string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	p, err := NewNATSPublisher(url, subject)
	if err != nil {
		return nil, err
	}
	return p, nil
}
