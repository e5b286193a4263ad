package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"github.com/IBM/sarama"
)

type fakeEngine struct {
	signals []engine.FillSignal
	err     error
}

func (f *fakeEngine) ProcessSignal(_ context.Context, sig engine.FillSignal) ([]engine.Execution, error) {
	f.signals = append(f.signals, sig)
	if f.err != nil {
		return nil, f.err
	}
	return []engine.Execution{{ID: "exec-1", OrderID: "o1"}}, nil
}

func fillMessage(t *testing.T, mutate func(map[string]any)) *sarama.ConsumerMessage {
	t.Helper()
	payload := map[string]any{
		"event_id":      "11111111-2222-3333-4444-555555555555",
		"event_type":    "market.fills",
		"event_version": 1,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"instrument":    "ssnlf",
		"side":          "BUY",
		"price":         "101.50",
		"quantity":      "30",
	}
	if mutate != nil {
		mutate(payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "market.fills", Value: raw}
}

func mustDLQ(t *testing.T, err error, reason string) {
	t.Helper()
	var dlq *kafka.DLQError
	if !errors.As(err, &dlq) {
		t.Fatalf("expected dead-letter error, got %v", err)
	}
	if dlq.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, dlq.Reason)
	}
}

func TestHandleMessageForwardsSignal(t *testing.T) {
	eng := &fakeEngine{}
	c := NewFillConsumer(eng, nil)

	if err := c.HandleMessage(context.Background(), fillMessage(t, nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(eng.signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(eng.signals))
	}
	sig := eng.signals[0]
	if sig.EventID != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("event id not carried: %s", sig.EventID)
	}
	if sig.Instrument != "ssnlf" || sig.Side != "BUY" {
		t.Fatalf("raw fields must pass through for the engine to normalize, got %+v", sig)
	}
	if sig.Price.String() != "101.5" || sig.Quantity.String() != "30" {
		t.Fatalf("unexpected parsed amounts: %s %s", sig.Price, sig.Quantity)
	}
}

func TestHandleMessageEmptyPayload(t *testing.T) {
	c := NewFillConsumer(&fakeEngine{}, nil)
	mustDLQ(t, c.HandleMessage(context.Background(), &sarama.ConsumerMessage{}), "empty_message")
}

func TestHandleMessageBadJSON(t *testing.T) {
	c := NewFillConsumer(&fakeEngine{}, nil)
	msg := &sarama.ConsumerMessage{Value: []byte("{not json")}
	mustDLQ(t, c.HandleMessage(context.Background(), msg), "decode")
}

func TestHandleMessageWrongEventType(t *testing.T) {
	c := NewFillConsumer(&fakeEngine{}, nil)
	msg := fillMessage(t, func(p map[string]any) { p["event_type"] = "orders.accepted" })
	mustDLQ(t, c.HandleMessage(context.Background(), msg), "validate")
}

func TestHandleMessageMissingFields(t *testing.T) {
	c := NewFillConsumer(&fakeEngine{}, nil)
	msg := fillMessage(t, func(p map[string]any) { delete(p, "quantity") })
	mustDLQ(t, c.HandleMessage(context.Background(), msg), "validate")
}

func TestHandleMessageUnparsablePrice(t *testing.T) {
	c := NewFillConsumer(&fakeEngine{}, nil)
	msg := fillMessage(t, func(p map[string]any) { p["price"] = "one hundred" })
	mustDLQ(t, c.HandleMessage(context.Background(), msg), "decode")
}

func TestHandleMessageUnknownInstrumentDeadLetters(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrUnknownInstrument}
	c := NewFillConsumer(eng, nil)
	mustDLQ(t, c.HandleMessage(context.Background(), fillMessage(t, nil)), "unroutable_signal")
}

func TestHandleMessageTransientErrorRetries(t *testing.T) {
	eng := &fakeEngine{err: fmt.Errorf("db unavailable")}
	c := NewFillConsumer(eng, nil)

	err := c.HandleMessage(context.Background(), fillMessage(t, nil))
	if err == nil {
		t.Fatalf("transient failure must surface for redelivery")
	}
	var dlq *kafka.DLQError
	if errors.As(err, &dlq) {
		t.Fatalf("transient failure must not be dead-lettered")
	}
}
