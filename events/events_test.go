package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	carrier := (*natsHeaderCarrier)(&nats.Msg{})

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestNewMessage(t *testing.T) {
	ev := IndexEvent{
		Type:       TypeIndexed,
		RepoID:     "api-0123456789ab",
		RepoDir:    "/src/api",
		Generation: 2,
		ChunkCount: 10,
		Time:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	msg, err := NewMessage(context.Background(), "reposcope.index", ev)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Subject != "reposcope.index.indexed" {
		t.Errorf("Subject = %q", msg.Subject)
	}

	var decoded IndexEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.RepoID != ev.RepoID || decoded.Generation != 2 {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestNewWithoutURLIsNop(t *testing.T) {
	p, err := New("", "reposcope.index")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop, got %T", p)
	}
	p.Publish(context.Background(), IndexEvent{Type: TypeRemoved})
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
