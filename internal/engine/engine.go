package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"log/slog"
)

const executionsEventType = "executions.completed"

// SnapshotStore supplies the open orders used to rebuild books at startup.
type SnapshotStore interface {
	LoadOpenOrders(ctx context.Context, instrument string) ([]*Order, error)
}

type Metrics interface {
	ObserveSignal(instrument, status string, duration time.Duration)
	ObserveExecutions(instrument string, count int)
	SetBookDepth(instrument, side string, depth float64)
	IncSettlementFailure(reason string)
}

// Engine owns one order book per registered instrument and converts fill
// signals into settled executions. Books are created from the instrument
// registry up front; an unregistered code is rejected everywhere.
type Engine struct {
	mu       sync.RWMutex
	books    map[string]*OrderBook
	settler  Settler
	store    SnapshotStore
	producer kafka.Publisher
	topic    string
	deduper  *signalDeduper
	logger   *slog.Logger
	metrics  Metrics
}

func NewEngine(instruments []string, settler Settler, store SnapshotStore, producer kafka.Publisher, executionsTopic string, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(executionsTopic) == "" {
		executionsTopic = executionsEventType
	}
	books := make(map[string]*OrderBook, len(instruments))
	for _, code := range instruments {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		books[code] = NewOrderBook(code)
	}
	return &Engine{
		books:    books,
		settler:  settler,
		store:    store,
		producer: producer,
		topic:    executionsTopic,
		deduper:  newSignalDeduper(100000),
		logger:   logger,
		metrics:  metrics,
	}
}

func (e *Engine) book(instrument string) (*OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	book, ok := e.books[strings.ToUpper(strings.TrimSpace(instrument))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	return book, nil
}

// Insert rests a newly accepted order in its instrument's book.
func (e *Engine) Insert(order *Order) error {
	if err := validateOrderFields(order); err != nil {
		return err
	}
	book, err := e.book(order.Instrument)
	if err != nil {
		return err
	}
	if err := book.Add(order); err != nil {
		return err
	}
	e.observeDepth(book)
	return nil
}

// Cancel removes a resting order. Returning false means the book no
// longer holds the entry: the order was already filled, cancelled, or
// never rested here; the caller classifies against the store.
func (e *Engine) Cancel(instrument, orderID string) bool {
	book, err := e.book(instrument)
	if err != nil {
		return false
	}
	removed := book.Remove(orderID)
	if removed {
		e.observeDepth(book)
	}
	return removed
}

// ProcessSignal applies one external fill signal. Replays of an already
// processed event id are no-ops with no executions.
func (e *Engine) ProcessSignal(ctx context.Context, sig FillSignal) ([]Execution, error) {
	start := time.Now()
	sig.Instrument = strings.ToUpper(strings.TrimSpace(sig.Instrument))
	sig.Side = normalizeSide(sig.Side)

	if err := sig.Validate(); err != nil {
		e.observeSignal(sig.Instrument, "invalid", start)
		return nil, err
	}
	book, err := e.book(sig.Instrument)
	if err != nil {
		e.observeSignal(sig.Instrument, "unknown_instrument", start)
		return nil, err
	}

	if e.deduper.Seen(sig.EventID) {
		e.observeSignal(sig.Instrument, "duplicate", start)
		return nil, nil
	}
	processed, err := e.settler.SignalProcessed(ctx, sig.EventID)
	if err != nil {
		return nil, fmt.Errorf("check signal %s: %w", sig.EventID, err)
	}
	if processed {
		e.deduper.Mark(sig.EventID)
		e.observeSignal(sig.Instrument, "duplicate", start)
		return nil, nil
	}

	executions, err := e.matchSignal(ctx, book, sig)
	if err != nil {
		e.observeSignal(sig.Instrument, "error", start)
		return executions, err
	}

	if err := e.settler.MarkSignalProcessed(ctx, sig.EventID, sig.Instrument); err != nil {
		// Redelivery will retry; settled fills are shielded by their
		// deterministic execution ids.
		e.observeSignal(sig.Instrument, "error", start)
		return executions, fmt.Errorf("mark signal %s: %w", sig.EventID, err)
	}
	e.deduper.Mark(sig.EventID)

	e.publishExecutions(ctx, executions)
	e.observeSignal(sig.Instrument, "ok", start)
	if e.metrics != nil && len(executions) > 0 {
		e.metrics.ObserveExecutions(sig.Instrument, len(executions))
	}
	e.observeDepth(book)
	return executions, nil
}

// LoadSnapshot rebuilds every book from the store's open orders. Called
// once at startup before the service reports ready.
func (e *Engine) LoadSnapshot(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("snapshot store not configured")
	}

	orders, err := e.store.LoadOpenOrders(ctx, "")
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, order := range orders {
		if order == nil {
			continue
		}
		if err := e.Insert(order); err != nil {
			e.logger.Error("snapshot order load failed", "order_id", order.ID, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (e *Engine) KnownInstrument(code string) bool {
	_, err := e.book(code)
	return err == nil
}

func (e *Engine) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	codes := make([]string, 0, len(e.books))
	for code := range e.books {
		codes = append(codes, code)
	}
	return codes
}

func (e *Engine) TotalOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, book := range e.books {
		count += book.Depth(SideBuy)
		count += book.Depth(SideSell)
	}
	return count
}

func (e *Engine) publishExecutions(ctx context.Context, executions []Execution) {
	if e.producer == nil || len(executions) == 0 {
		return
	}
	for _, exec := range executions {
		env, err := kafka.NewEnvelopeWithID(exec.ID, executionsEventType, 1, exec.SignalID)
		if err != nil {
			e.logger.Error("execution envelope build failed", "execution_id", exec.ID, "error", err)
			continue
		}
		payload := ExecutionCompletedEvent{
			Envelope:    env,
			ExecutionID: exec.ID,
			OrderID:     exec.OrderID,
			AccountID:   exec.AccountID,
			Instrument:  exec.Instrument,
			Side:        exec.Side,
			Price:       exec.Price.String(),
			Quantity:    exec.Quantity.String(),
			ExecutedAt:  exec.ExecutedAt.UTC().Format(time.RFC3339),
		}
		// Dispatch is outside the settlement boundary: a publish failure
		// is logged (and dead-lettered by the producer), never rolled back.
		if _, _, err := e.producer.PublishJSON(ctx, e.topic, exec.Instrument, payload); err != nil {
			e.logger.Error("execution publish failed", "execution_id", exec.ID, "error", err)
		}
	}
}

func (e *Engine) observeSignal(instrument, status string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveSignal(instrument, status, time.Since(start))
}

func (e *Engine) observeDepth(book *OrderBook) {
	if e.metrics == nil {
		return
	}
	e.metrics.SetBookDepth(book.Instrument(), SideBuy, float64(book.Depth(SideBuy)))
	e.metrics.SetBookDepth(book.Instrument(), SideSell, float64(book.Depth(SideSell)))
}

// signalDeduper is a bounded first-line replay filter; durable dedup lives
// in the processed_signals table.
type signalDeduper struct {
	mu       sync.Mutex
	maxSize  int
	order    []string
	seenByID map[string]struct{}
}

func newSignalDeduper(max int) *signalDeduper {
	if max <= 0 {
		max = 10000
	}
	return &signalDeduper{
		maxSize:  max,
		seenByID: make(map[string]struct{}, max),
	}
}

func (d *signalDeduper) Seen(eventID string) bool {
	if strings.TrimSpace(eventID) == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seenByID[eventID]
	return ok
}

func (d *signalDeduper) Mark(eventID string) {
	if strings.TrimSpace(eventID) == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seenByID[eventID]; ok {
		return
	}
	d.seenByID[eventID] = struct{}{}
	d.order = append(d.order, eventID)
	if len(d.order) > d.maxSize {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seenByID, oldest)
	}
}
