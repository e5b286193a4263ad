package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/storage"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

const (
	ordersAcceptedEventType  = "orders.accepted"
	ordersCancelledEventType = "orders.cancelled"
)

var ErrUnknownInstrument = engine.ErrUnknownInstrument

type OrderStore interface {
	CreateOrder(ctx context.Context, order storage.Order) (*storage.Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ListExecutions(ctx context.Context, orderID uuid.UUID) ([]storage.Execution, error)
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*storage.Account, error)
	ListHoldings(ctx context.Context, accountID uuid.UUID) ([]storage.Holding, error)
	ListStaleOpenOrders(ctx context.Context, olderThan time.Time, limit int) ([]storage.Order, error)
}

// MatchingEngine is the book-facing surface the service drives. The store
// stays authoritative; the engine holds the resting projections.
type MatchingEngine interface {
	Insert(order *engine.Order) error
	Cancel(instrument, orderID string) bool
	KnownInstrument(code string) bool
}

type Topics struct {
	OrdersAccepted  string
	OrdersCancelled string
}

type OrderService struct {
	store    OrderStore
	engine   MatchingEngine
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
}

func NewOrderService(store OrderStore, eng MatchingEngine, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if topics.OrdersAccepted == "" {
		topics.OrdersAccepted = ordersAcceptedEventType
	}
	if topics.OrdersCancelled == "" {
		topics.OrdersCancelled = ordersCancelledEventType
	}
	return &OrderService{
		store:    store,
		engine:   eng,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
	}
}

type SubmitOrderInput struct {
	AccountID     uuid.UUID
	Instrument    string
	Side          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	CorrelationID string
}

// SubmitOrder persists a pending limit order and rests it in the book.
// Funds and holdings are checked at submission so settlement-time
// violations count as data-integrity faults, not user errors.
func (s *OrderService) SubmitOrder(ctx context.Context, input SubmitOrderInput) (*storage.Order, error) {
	if !s.engine.KnownInstrument(input.Instrument) {
		s.observeSubmit("rejected")
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, input.Instrument)
	}

	order := storage.Order{
		ID:         uuid.New(),
		AccountID:  input.AccountID,
		Instrument: input.Instrument,
		Side:       input.Side,
		Price:      input.Price,
		Quantity:   input.Quantity,
	}

	stored, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		s.observeSubmit("rejected")
		return nil, err
	}

	if err := s.engine.Insert(&engine.Order{
		ID:         stored.ID.String(),
		AccountID:  stored.AccountID.String(),
		Instrument: stored.Instrument,
		Side:       stored.Side,
		Price:      stored.Price,
		Quantity:   stored.Quantity,
		Filled:     stored.FilledQuantity,
		CreatedAt:  stored.CreatedAt,
	}); err != nil {
		// The order row exists but cannot rest; cancel it so the account's
		// commitment is released instead of leaking.
		s.logger.Error("book insert failed, cancelling order", "order_id", stored.ID, "error", err)
		if _, cancelErr := s.store.CancelOrder(ctx, stored.ID); cancelErr != nil {
			s.logger.Error("compensating cancel failed", "order_id", stored.ID, "error", cancelErr)
		}
		s.observeSubmit("rejected")
		return nil, err
	}

	s.observeSubmit("accepted")
	s.publishOrderEvent(ctx, s.topics.OrdersAccepted, ordersAcceptedEventType, stored, input.CorrelationID)
	return stored, nil
}

// CancelOrder resolves the race with in-flight matching through the book's
// per-instrument serialization: whoever consumes the entry first wins, and
// the loser gets a typed error.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	existing, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.engine.Cancel(existing.Instrument, existing.ID.String())

	cancelled, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return cancelled, err
	}

	if s.metrics != nil {
		s.metrics.OrdersCancelled.Inc()
	}
	s.publishOrderEvent(ctx, s.topics.OrdersCancelled, ordersCancelledEventType, cancelled, "")
	return cancelled, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, []storage.Execution, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	executions, err := s.store.ListExecutions(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, executions, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error) {
	return s.store.ListOrders(ctx, filter)
}

func (s *OrderService) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	return s.store.ListInstruments(ctx)
}

// AccountSummary is the contest-facing view: cash plus current holdings.
func (s *OrderService) AccountSummary(ctx context.Context, accountID uuid.UUID) (*storage.Account, []storage.Holding, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	holdings, err := s.store.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return account, holdings, nil
}

type orderEvent struct {
	kafka.Envelope
	OrderID    string `json:"order_id"`
	AccountID  string `json:"account_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Filled     string `json:"filled_quantity"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
}

func (s *OrderService) publishOrderEvent(ctx context.Context, topic, eventType string, order *storage.Order, correlationID string) {
	if s.producer == nil || order == nil {
		return
	}
	env, err := kafka.NewEnvelope(eventType, 1, correlationID)
	if err != nil {
		s.logger.Error("order event envelope build failed", "order_id", order.ID, "error", err)
		return
	}
	payload := orderEvent{
		Envelope:   env,
		OrderID:    order.ID.String(),
		AccountID:  order.AccountID.String(),
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      order.Price.String(),
		Quantity:   order.Quantity.String(),
		Filled:     order.FilledQuantity.String(),
		Status:     order.Status,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, topic, order.Instrument, payload); err != nil {
		s.logger.Error("order event publish failed", "topic", topic, "order_id", order.ID, "error", err)
	}
}

func (s *OrderService) observeSubmit(status string) {
	if s.metrics != nil {
		s.metrics.OrdersSubmitted.WithLabelValues(status).Inc()
	}
}

// IsStaleCancel reports whether err is one of the expected outcomes of
// cancelling an order that a fill got to first.
func IsStaleCancel(err error) bool {
	return errors.Is(err, storage.ErrOrderAlreadyFilled) ||
		errors.Is(err, storage.ErrOrderAlreadyCancelled) ||
		errors.Is(err, storage.ErrNotFound)
}
