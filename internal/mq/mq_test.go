package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafka "github.com/segmentio/kafka-go"

	"github.com/shaiso/Armada/internal/domain"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	ctxOK  bool
}

func (p *fakePublisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctxOK = ctx.Err() == nil
	p.events = append(p.events, ev)
	return p.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestEventRoutingKey(t *testing.T) {
	ev := domain.NewEvent("db", domain.ComponentGuard, domain.EventGuardAlert)
	if got := EventRoutingKey(ev); got != "guard.alert" {
		t.Errorf("expected guard.alert, got %s", got)
	}
}

func TestCommandPayload_Validate(t *testing.T) {
	if err := (CommandPayload{Command: CommandRetry, NodeID: "db"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (CommandPayload{Command: CommandDeploy}).Validate(); err != nil {
		t.Errorf("deploy needs no node: %v", err)
	}
	if err := (CommandPayload{Command: CommandStop}).Validate(); err == nil {
		t.Error("expected error for stop without node_id")
	}
	if err := (CommandPayload{Command: "reboot", NodeID: "db"}).Validate(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestReject(t *testing.T) {
	base := errors.New("unknown node")
	err := Reject(base)

	if !IsRejected(err) {
		t.Error("expected rejected error")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap")
	}
	if IsRejected(base) {
		t.Error("plain error must not be rejected")
	}
	if Reject(nil) != nil {
		t.Error("Reject(nil) must be nil")
	}
}

func TestParsePayload(t *testing.T) {
	body := []byte(`{"id":"1","type":"fleet.command","payload":{"command":"retry","node_id":"db"}}`)

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	cmd, err := ParsePayload[CommandPayload](&msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if cmd.Command != CommandRetry || cmd.NodeID != "db" {
		t.Errorf("unexpected payload: %+v", cmd)
	}
}

func TestEventSink_Emit(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	sink := NewEventSink(pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink.Emit(ctx, domain.NewEvent("db", domain.ComponentLifecycle, domain.EventTransition))

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	if !pub.ctxOK {
		t.Error("publish must not inherit caller cancellation")
	}
}

func TestKafkaSink_Emit(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, nil)

	ev := domain.NewEvent("cache", domain.ComponentGuard, domain.EventDriftDetected).WithDetail("reason", "config_mismatch")
	sink.Emit(context.Background(), ev)
	sink.Emit(context.Background(), domain.NewEvent("", domain.ComponentOrchestrator, domain.EventDeployStarted))

	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "cache" {
		t.Errorf("expected node key, got %q", w.msgs[0].Key)
	}
	if string(w.msgs[1].Key) != "orchestrator" {
		t.Errorf("expected component key for fleet event, got %q", w.msgs[1].Key)
	}

	var decoded domain.Event
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != ev.ID || decoded.Kind != domain.EventDriftDetected {
		t.Errorf("unexpected event: %+v", decoded)
	}

	if err := sink.Close(); err != nil || !w.closed {
		t.Errorf("expected writer closed, err=%v", err)
	}
}
