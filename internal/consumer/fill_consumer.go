package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	"log/slog"
)

const marketFillEventType = "market.fills"

// MarketFillEvent is the upstream feed's notification that taker-side
// activity occurred on the real market. The envelope's event id is the
// dedup key for at-least-once delivery.
type MarketFillEvent struct {
	kafka.Envelope
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	OccurredAt string `json:"occurred_at"`
}

func (e *MarketFillEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != marketFillEventType {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.Instrument) == "" {
		return fmt.Errorf("instrument required")
	}
	if strings.TrimSpace(e.Side) == "" {
		return fmt.Errorf("side required")
	}
	if strings.TrimSpace(e.Price) == "" {
		return fmt.Errorf("price required")
	}
	if strings.TrimSpace(e.Quantity) == "" {
		return fmt.Errorf("quantity required")
	}
	return nil
}

type Engine interface {
	ProcessSignal(ctx context.Context, sig engine.FillSignal) ([]engine.Execution, error)
}

type FillConsumer struct {
	engine Engine
	logger *slog.Logger
}

func NewFillConsumer(eng Engine, logger *slog.Logger) *FillConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FillConsumer{engine: eng, logger: logger}
}

// HandleMessage converts one Kafka message into a fill signal. Malformed
// or unroutable input is dead-lettered; transient engine failures bubble
// up so the message is redelivered.
func (c *FillConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty_message")
	}

	var event MarketFillEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode market fill: %w", err), "decode")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(fmt.Errorf("invalid market fill: %w", err), "validate")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(event.Price))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("parse price: %w", err), "decode")
	}
	quantity, err := decimal.NewFromString(strings.TrimSpace(event.Quantity))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("parse quantity: %w", err), "decode")
	}

	occurredAt := event.Timestamp
	if raw := strings.TrimSpace(event.OccurredAt); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			occurredAt = parsed
		}
	}

	sig := engine.FillSignal{
		EventID:    event.EventID,
		Instrument: event.Instrument,
		Side:       event.Side,
		Price:      price,
		Quantity:   quantity,
		Timestamp:  occurredAt,
	}

	executions, err := c.engine.ProcessSignal(ctx, sig)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownInstrument) || errors.Is(err, engine.ErrInvalidSignal) {
			return kafka.DLQ(err, "unroutable_signal")
		}
		return fmt.Errorf("process fill signal %s: %w", event.EventID, err)
	}

	if len(executions) > 0 {
		c.logger.Info("fill signal matched",
			"event_id", event.EventID,
			"instrument", sig.Instrument,
			"executions", len(executions),
		)
	}
	return nil
}
