package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"
	"github.com/shopspring/decimal"
)

// matchSignal runs one fill signal against the instrument's book. The book
// lock is held for the whole pass, so inserts and cancels for the same
// instrument cannot interleave with it. Each matched fill is settled
// durably before the next resting entry is considered.
//
// An integrity failure (insufficient funds/holdings, stale order row)
// drops only the offending entry: it is pulled from the book, alarmed, and
// the pass continues against independent accounts. Any other settlement
// error aborts the pass so the upstream redelivery can resume it; fills
// already settled stay settled.
func (e *Engine) matchSignal(ctx context.Context, book *OrderBook, sig FillSignal) ([]Execution, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	// An aborted pass resumes here on redelivery. Fills settled before the
	// abort stay settled, so the signal's budget starts from whatever its
	// earlier deliveries have not already consumed.
	already, err := e.settler.SettledQuantity(ctx, sig.EventID)
	if err != nil {
		return nil, fmt.Errorf("settled quantity for signal %s: %w", sig.EventID, err)
	}

	contra := book.restingSide(ContraSide(sig.Side))
	remaining := sig.Quantity.Sub(already)
	executions := make([]Execution, 0)

	for remaining.GreaterThan(decimal.Zero) {
		level := contra.best()
		if level == nil {
			break
		}
		if !crosses(sig.Side, sig.Price, level.price) {
			break
		}

		makerElem := level.orders.Front()
		if makerElem == nil {
			break
		}
		maker := makerElem.Value.(*Order)
		makerRemaining := maker.Remaining()
		if makerRemaining.LessThanOrEqual(decimal.Zero) {
			book.removeLocked(maker.ID)
			continue
		}

		fillQty := minDecimal(remaining, makerRemaining)
		fill := Execution{
			// Stable per (signal, order), so a redelivered signal cannot
			// settle the same fill twice.
			ID:         kafka.DeterministicEventID("executions", sig.EventID, maker.ID),
			OrderID:    maker.ID,
			AccountID:  maker.AccountID,
			Instrument: sig.Instrument,
			Side:       maker.Side,
			Price:      level.price,
			Quantity:   fillQty,
			SignalID:   sig.EventID,
			ExecutedAt: time.Now().UTC(),
		}

		outcome, err := e.settler.SettleFill(ctx, fill)
		if err != nil {
			if integrityFailure(err) {
				e.logger.Error("settlement integrity failure, pulling order from book",
					"order_id", maker.ID,
					"account_id", maker.AccountID,
					"instrument", sig.Instrument,
					"signal_id", sig.EventID,
					"error", err,
				)
				if e.metrics != nil {
					e.metrics.IncSettlementFailure(failureReason(err))
				}
				book.removeLocked(maker.ID)
				continue
			}
			return executions, err
		}

		maker.Filled = maker.Filled.Add(fillQty)
		remaining = remaining.Sub(fillQty)
		if maker.Remaining().LessThanOrEqual(decimal.Zero) {
			book.removeLocked(maker.ID)
		}
		if outcome.AlreadyApplied {
			// Settled by an earlier delivery; the in-memory projection just
			// caught up. The fill is still returned so its event is
			// republished, which the deterministic execution id keeps
			// harmless downstream.
			e.logger.Debug("fill already settled", "execution_id", fill.ID, "signal_id", sig.EventID)
		}
		executions = append(executions, fill)
	}

	// Residual signal quantity is absorbed by the simulated market; it
	// never becomes a resting order.
	return executions, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	default:
		return "stale_order"
	}
}

func crosses(signalSide string, signalPrice, restingPrice decimal.Decimal) bool {
	switch normalizeSide(signalSide) {
	case SideBuy:
		// Buy-side activity consumes resting sells at or below its price.
		return restingPrice.Cmp(signalPrice) <= 0
	case SideSell:
		// Sell-side activity consumes resting buys at or above its price.
		return restingPrice.Cmp(signalPrice) >= 0
	default:
		return false
	}
}
