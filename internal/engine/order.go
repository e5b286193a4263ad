package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	StatusPending         = "pending"
	StatusPartiallyFilled = "partially_filled"
	StatusFilled          = "filled"
	StatusCancelled       = "cancelled"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidSignal     = errors.New("invalid fill signal")

	// Settlement integrity failures. They indicate that submission-time
	// validation was violated upstream; the affected fill is dropped and
	// alarmed, sibling fills in the same pass proceed.
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrStaleOrder           = errors.New("order not open for fill")
)

// Order is the in-memory projection of a resting limit order. It exists in
// a book only while the persisted order is pending or partially filled;
// the Order Store remains the source of truth.
type Order struct {
	ID         string
	AccountID  string
	Instrument string
	Side       string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Filled     decimal.Decimal
	CreatedAt  time.Time
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// FillSignal is the external notification that taker-side market activity
// occurred. Its side is the taker's side: a buy signal consumes resting
// sell orders and vice versa. EventID is the at-least-once dedup key.
type FillSignal struct {
	EventID    string
	Instrument string
	Side       string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Timestamp  time.Time
}

func (s FillSignal) Validate() error {
	if strings.TrimSpace(s.EventID) == "" {
		return ErrInvalidSignal
	}
	if normalizeSide(s.Side) == "" {
		return ErrInvalidSignal
	}
	if s.Price.LessThanOrEqual(decimal.Zero) || s.Quantity.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidSignal
	}
	return nil
}

// Execution records a single fill of a resting order. Price is always the
// resting order's limit price.
type Execution struct {
	ID         string
	OrderID    string
	AccountID  string
	Instrument string
	Side       string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	SignalID   string
	ExecutedAt time.Time
}

// SettleOutcome reports what durably happened to a fill.
type SettleOutcome struct {
	OrderStatus    string
	AlreadyApplied bool
}

// Settler applies one fill atomically to the order row, the execution
// ledger and the two account-side balances. SettledQuantity reports how
// much of a signal earlier deliveries already consumed, so a resumed pass
// never spends the same budget twice.
type Settler interface {
	SettleFill(ctx context.Context, fill Execution) (SettleOutcome, error)
	SettledQuantity(ctx context.Context, signalID string) (decimal.Decimal, error)
	SignalProcessed(ctx context.Context, eventID string) (bool, error)
	MarkSignalProcessed(ctx context.Context, eventID, instrument string) error
}

func ContraSide(side string) string {
	switch normalizeSide(side) {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return ""
	}
}

func normalizeSide(side string) string {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case SideBuy:
		return SideBuy
	case SideSell:
		return SideSell
	default:
		return ""
	}
}

func validateOrderFields(order *Order) error {
	if order == nil {
		return ErrInvalidOrder
	}
	if strings.TrimSpace(order.ID) == "" {
		return ErrInvalidOrder
	}
	if strings.TrimSpace(order.AccountID) == "" {
		return ErrInvalidOrder
	}
	if normalizeSide(order.Side) == "" {
		return ErrInvalidOrder
	}
	if order.Price.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidOrder
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidOrder
	}
	if order.Filled.IsNegative() || order.Filled.GreaterThan(order.Quantity) {
		return ErrInvalidOrder
	}
	return nil
}

func integrityFailure(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrStaleOrder)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
