package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func parseDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// SettleFill applies one fill in a single transaction: append the
// execution row, advance the order's filled quantity and status, and move
// cash and holdings on the maker's account. Every guard rolls the whole
// fill back; nothing is clamped.
//
// The execution id is deterministic per (signal, order), so a replayed
// fill hits the executions primary key and reports AlreadyApplied instead
// of settling twice.
func (s *Store) SettleFill(ctx context.Context, fill engine.Execution) (engine.SettleOutcome, error) {
	execID, err := uuid.Parse(fill.ID)
	if err != nil {
		return engine.SettleOutcome{}, fmt.Errorf("parse execution id: %w", err)
	}
	orderID, err := uuid.Parse(fill.OrderID)
	if err != nil {
		return engine.SettleOutcome{}, fmt.Errorf("parse order id: %w", err)
	}
	accountID, err := uuid.Parse(fill.AccountID)
	if err != nil {
		return engine.SettleOutcome{}, fmt.Errorf("parse account id: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return engine.SettleOutcome{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var insertedID uuid.UUID
	row := tx.QueryRow(ctx, `
		INSERT INTO executions (id, order_id, account_id, instrument, side, price, quantity, signal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`, execID, orderID, accountID, fill.Instrument, fill.Side, fill.Price.String(), fill.Quantity.String(), fill.SignalID)
	if err := row.Scan(&insertedID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return engine.SettleOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return engine.SettleOutcome{}, err
		}
		committed = true
		return engine.SettleOutcome{AlreadyApplied: true}, nil
	}

	var status string
	row = tx.QueryRow(ctx, `
		UPDATE orders
		SET filled_quantity = filled_quantity + $2,
		    status = CASE WHEN filled_quantity + $2 >= quantity THEN 'filled' ELSE 'partially_filled' END,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'partially_filled')
		  AND filled_quantity + $2 <= quantity
		RETURNING status
	`, orderID, fill.Quantity.String())
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.SettleOutcome{}, fmt.Errorf("order %s: %w", fill.OrderID, engine.ErrStaleOrder)
		}
		return engine.SettleOutcome{}, err
	}

	cost := fill.Price.Mul(fill.Quantity)
	switch fill.Side {
	case engine.SideBuy:
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET cash_balance = cash_balance - $2, updated_at = now()
			WHERE id = $1 AND cash_balance >= $2
		`, accountID, cost.String())
		if err != nil {
			return engine.SettleOutcome{}, err
		}
		if tag.RowsAffected() == 0 {
			return engine.SettleOutcome{}, fmt.Errorf("account %s: %w", fill.AccountID, engine.ErrInsufficientFunds)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_stocks (account_id, instrument, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id, instrument)
			DO UPDATE SET quantity = account_stocks.quantity + $3, updated_at = now()
		`, accountID, fill.Instrument, fill.Quantity.String()); err != nil {
			return engine.SettleOutcome{}, err
		}
	case engine.SideSell:
		tag, err := tx.Exec(ctx, `
			UPDATE account_stocks
			SET quantity = quantity - $3, updated_at = now()
			WHERE account_id = $1 AND instrument = $2 AND quantity >= $3
		`, accountID, fill.Instrument, fill.Quantity.String())
		if err != nil {
			return engine.SettleOutcome{}, err
		}
		if tag.RowsAffected() == 0 {
			return engine.SettleOutcome{}, fmt.Errorf("account %s instrument %s: %w", fill.AccountID, fill.Instrument, engine.ErrInsufficientHoldings)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET cash_balance = cash_balance + $2, updated_at = now()
			WHERE id = $1
		`, accountID, cost.String()); err != nil {
			return engine.SettleOutcome{}, err
		}
	default:
		return engine.SettleOutcome{}, fmt.Errorf("invalid side %q", fill.Side)
	}

	if err := tx.Commit(ctx); err != nil {
		return engine.SettleOutcome{}, err
	}
	committed = true
	return engine.SettleOutcome{OrderStatus: status}, nil
}

// SettledQuantity sums the fills already recorded for a signal. A
// redelivered signal resumes its matching pass with only the quantity no
// earlier delivery consumed.
func (s *Store) SettledQuantity(ctx context.Context, signalID string) (decimal.Decimal, error) {
	var sumStr string
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::text FROM executions WHERE signal_id = $1
	`, signalID)
	if err := row.Scan(&sumStr); err != nil {
		return decimal.Zero, err
	}
	return parseDecimal(sumStr, "settled quantity")
}

func (s *Store) SignalProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_signals WHERE event_id = $1)`, eventID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) MarkSignalProcessed(ctx context.Context, eventID, instrument string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_signals (event_id, instrument)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, instrument)
	return err
}

// ListExecutions returns the append-only fill history for an order.
func (s *Store) ListExecutions(ctx context.Context, orderID uuid.UUID) ([]Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, account_id, instrument, side, price::text, quantity::text, signal_id, created_at
		FROM executions
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executions := []Execution{}
	for rows.Next() {
		var exec Execution
		var priceStr, qtyStr string
		if err := rows.Scan(&exec.ID, &exec.OrderID, &exec.AccountID, &exec.Instrument, &exec.Side, &priceStr, &qtyStr, &exec.SignalID, &exec.CreatedAt); err != nil {
			return nil, err
		}
		if exec.Price, err = parseDecimal(priceStr, "price"); err != nil {
			return nil, err
		}
		if exec.Quantity, err = parseDecimal(qtyStr, "quantity"); err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}
