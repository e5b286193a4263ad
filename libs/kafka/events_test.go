package kafka

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("executions.completed", 1, "corr-1")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.EventID == "" {
		t.Fatalf("event id must be generated")
	}
	if env.EventType != "executions.completed" || env.EventVersion != 1 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestNewEnvelopeRejectsBadInput(t *testing.T) {
	if _, err := NewEnvelopeWithID("", "t", 1, ""); err == nil {
		t.Fatalf("empty event id must be rejected")
	}
	if _, err := NewEnvelopeWithID("id", "", 1, ""); err == nil {
		t.Fatalf("empty event type must be rejected")
	}
	if _, err := NewEnvelopeWithID("id", "t", 0, ""); err == nil {
		t.Fatalf("non-positive version must be rejected")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env := Envelope{EventID: "id", EventType: "t", EventVersion: 1}
	if err := env.Validate(); err == nil {
		t.Fatalf("zero timestamp must be rejected")
	}
	env.Timestamp = time.Now()
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDeterministicEventIDIsStable(t *testing.T) {
	a := DeterministicEventID("executions", "sig-1", "order-1")
	b := DeterministicEventID("executions", "sig-1", "order-1")
	if a != b {
		t.Fatalf("same parts must yield the same id: %s vs %s", a, b)
	}
	c := DeterministicEventID("executions", "sig-1", "order-2")
	if a == c {
		t.Fatalf("different parts must yield different ids")
	}
}

func TestDLQClassification(t *testing.T) {
	base := fmt.Errorf("decode failed")
	err := DLQ(base, "decode")

	var dlq *DLQError
	if !errors.As(err, &dlq) {
		t.Fatalf("expected DLQError")
	}
	if dlq.Reason != "decode" {
		t.Fatalf("expected reason decode, got %s", dlq.Reason)
	}
	if !errors.Is(err, base) {
		t.Fatalf("DLQ must wrap the original error")
	}
	if DLQ(nil, "x") != nil {
		t.Fatalf("nil error must stay nil")
	}
}
