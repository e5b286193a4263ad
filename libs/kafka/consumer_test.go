package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
)

type handlerFunc func(context.Context, *sarama.ConsumerMessage) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return h(ctx, msg)
}

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

type stubSession struct {
	ctx    context.Context
	marked []int64
}

func (s *stubSession) Context() context.Context                         { return s.ctx }
func (s *stubSession) Claims() map[string][]int32                       { return map[string][]int32{} }
func (s *stubSession) MemberID() string                                 { return "" }
func (s *stubSession) GenerationID() int32                              { return 0 }
func (s *stubSession) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *stubSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *stubSession) Commit() {}

type stubClaim struct {
	msgCh chan *sarama.ConsumerMessage
}

func (c *stubClaim) Topic() string                            { return "market.fills" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgCh }

func fillClaim(offsets ...int64) *stubClaim {
	msgCh := make(chan *sarama.ConsumerMessage, len(offsets))
	for _, offset := range offsets {
		msgCh <- &sarama.ConsumerMessage{Topic: "market.fills", Partition: 0, Offset: offset, Value: []byte("payload")}
	}
	close(msgCh)
	return &stubClaim{msgCh: msgCh}
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return nil
		}),
		logger: slog.Default(),
	}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, fillClaim(1, 2)); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if len(session.marked) != 2 {
		t.Fatalf("expected both messages marked, got %v", session.marked)
	}
}

func TestConsumeClaimDeadLettersAndMarks(t *testing.T) {
	dlq := &stubPublisher{}
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, _ *sarama.ConsumerMessage) error {
			return DLQ(errors.New("decode failed"), "decode")
		}),
		logger:   slog.Default(),
		dlq:      dlq,
		dlqTopic: "dead_letter",
	}

	session := &stubSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, fillClaim(1)); err != nil {
		t.Fatalf("consume claim error: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("dead-lettered message must be marked, got %v", session.marked)
	}
	if len(dlq.calls) != 1 || dlq.calls[0].topic != "dead_letter" {
		t.Fatalf("expected dlq publish, got %+v", dlq.calls)
	}
	payload, ok := dlq.calls[0].value.(DLQPayload)
	if !ok {
		t.Fatalf("expected DLQPayload, got %T", dlq.calls[0].value)
	}
	if payload.Reason != "decode" || payload.OriginalTopic != "market.fills" {
		t.Fatalf("unexpected dlq payload %+v", payload)
	}
}

func TestConsumeClaimStopsAtTransientFailure(t *testing.T) {
	transient := errors.New("db unavailable")
	var handled []int64
	handler := &consumerGroupHandler{
		handler: handlerFunc(func(_ context.Context, msg *sarama.ConsumerMessage) error {
			handled = append(handled, msg.Offset)
			if msg.Offset == 2 {
				return transient
			}
			return nil
		}),
		logger: slog.Default(),
	}

	session := &stubSession{ctx: context.Background()}
	err := handler.ConsumeClaim(session, fillClaim(1, 2, 3))
	if !errors.Is(err, transient) {
		t.Fatalf("expected the transient error to end the claim, got %v", err)
	}
	if len(session.marked) != 1 || session.marked[0] != 1 {
		t.Fatalf("only offsets before the failure may be marked, got %v", session.marked)
	}
	if len(handled) != 2 {
		t.Fatalf("messages after the failure must not be consumed, got %v", handled)
	}
}
