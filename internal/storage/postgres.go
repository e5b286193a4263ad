package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"log/slog"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidCursor         = errors.New("invalid cursor")
	ErrOrderAlreadyFilled    = errors.New("order already filled")
	ErrOrderAlreadyCancelled = errors.New("order already cancelled")
)

const orderColumns = `id, account_id, instrument, side, price::text, quantity::text, filled_quantity::text, status, created_at, updated_at`

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// CreateOrder persists a new pending limit order. The account row is
// locked while buying power (cash minus open buy commitments) or holdings
// coverage (held minus open sell commitments) is verified, so two
// concurrent submissions cannot both pass on the same balance.
func (s *Store) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var cashStr string
	row := tx.QueryRow(ctx, `SELECT cash_balance::text FROM accounts WHERE id = $1 FOR UPDATE`, order.AccountID)
	if err := row.Scan(&cashStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", order.AccountID, ErrNotFound)
		}
		return nil, err
	}

	switch order.Side {
	case engine.SideBuy:
		cash, err := decimal.NewFromString(cashStr)
		if err != nil {
			return nil, fmt.Errorf("parse cash balance: %w", err)
		}
		committedCash, err := s.openCommitment(ctx, tx, order.AccountID, engine.SideBuy, "")
		if err != nil {
			return nil, err
		}
		cost := order.Price.Mul(order.Quantity)
		if cash.Sub(committedCash).LessThan(cost) {
			return nil, engine.ErrInsufficientFunds
		}
	case engine.SideSell:
		held, err := s.heldQuantity(ctx, tx, order.AccountID, order.Instrument)
		if err != nil {
			return nil, err
		}
		committedQty, err := s.openCommitment(ctx, tx, order.AccountID, engine.SideSell, order.Instrument)
		if err != nil {
			return nil, err
		}
		if held.Sub(committedQty).LessThan(order.Quantity) {
			return nil, engine.ErrInsufficientHoldings
		}
	default:
		return nil, fmt.Errorf("invalid side %q", order.Side)
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO orders (id, account_id, instrument, side, price, quantity, filled_quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING `+orderColumns+`
	`, order.ID, order.AccountID, order.Instrument, order.Side, order.Price.String(), order.Quantity.String(), engine.StatusPending)

	stored, err := scanOrderRow(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return stored, nil
}

// openCommitment sums what the account's open orders already pledge:
// notional for buys, quantity for sells (per instrument).
func (s *Store) openCommitment(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, side, instrument string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(price * (quantity - filled_quantity)), 0)::text
		FROM orders
		WHERE account_id = $1 AND side = $2 AND status IN ('pending', 'partially_filled')
	`
	args := []any{accountID, side}
	if side == engine.SideSell {
		query = `
			SELECT COALESCE(SUM(quantity - filled_quantity), 0)::text
			FROM orders
			WHERE account_id = $1 AND side = $2 AND status IN ('pending', 'partially_filled') AND instrument = $3
		`
		args = append(args, instrument)
	}

	var sumStr string
	if err := tx.QueryRow(ctx, query, args...).Scan(&sumStr); err != nil {
		return decimal.Zero, err
	}
	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse open commitment: %w", err)
	}
	return sum, nil
}

func (s *Store) heldQuantity(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, instrument string) (decimal.Decimal, error) {
	var qtyStr string
	row := tx.QueryRow(ctx, `
		SELECT quantity::text FROM account_stocks
		WHERE account_id = $1 AND instrument = $2
		FOR UPDATE
	`, accountID, instrument)
	if err := row.Scan(&qtyStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse held quantity: %w", err)
	}
	return qty, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE account_id = $1`
	args := []any{filter.AccountID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Instrument != "" {
		args = append(args, filter.Instrument)
		query += fmt.Sprintf(" AND instrument = $%d", len(args))
	}
	if filter.Cursor != "" {
		cursorAt, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		args = append(args, cursorAt, cursorID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	orders := make([]Order, 0, limit)
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, "", err
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, "", rows.Err()
	}

	next := ""
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[len(orders)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return orders, next, nil
}

// CancelOrder performs the guarded terminal transition. An order that is
// no longer open yields a typed error instead of a silent overwrite.
func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'partially_filled')
		RETURNING `+orderColumns+`
	`, orderID, engine.StatusCancelled)

	order, err := scanOrderRow(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	existing, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch existing.Status {
	case engine.StatusFilled:
		return existing, ErrOrderAlreadyFilled
	case engine.StatusCancelled:
		return existing, ErrOrderAlreadyCancelled
	default:
		return existing, fmt.Errorf("order %s in unexpected status %s", orderID, existing.Status)
	}
}

// LoadOpenOrders feeds the engine's startup snapshot. Ordering by
// (created_at, id) reproduces time priority deterministically.
func (s *Store) LoadOpenOrders(ctx context.Context, instrument string) ([]*engine.Order, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("db pool not configured")
	}

	args := []any{}
	query := `
		SELECT id::text, account_id::text, instrument, side, price::text, quantity::text, filled_quantity::text, created_at
		FROM orders
		WHERE status IN ('pending', 'partially_filled')
	`
	if strings.TrimSpace(instrument) != "" {
		query += " AND instrument = $1"
		args = append(args, instrument)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*engine.Order{}
	for rows.Next() {
		var id, accountID, code, side, priceStr, qtyStr, filledStr string
		var createdAt time.Time
		if err := rows.Scan(&id, &accountID, &code, &side, &priceStr, &qtyStr, &filledStr, &createdAt); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		filled, err := decimal.NewFromString(filledStr)
		if err != nil {
			return nil, fmt.Errorf("parse filled quantity: %w", err)
		}

		orders = append(orders, &engine.Order{
			ID:         id,
			AccountID:  accountID,
			Instrument: code,
			Side:       side,
			Price:      price,
			Quantity:   qty,
			Filled:     filled,
			CreatedAt:  createdAt,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

// ListStaleOpenOrders returns open orders older than the cutoff, oldest
// first. The expiry sweeper cancels them through the public cancel path.
func (s *Store) ListStaleOpenOrders(ctx context.Context, olderThan time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ('pending', 'partially_filled') AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *Store) ListInstruments(ctx context.Context) ([]Instrument, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name, created_at FROM instruments ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instruments := []Instrument{}
	for rows.Next() {
		var inst Instrument
		if err := rows.Scan(&inst.Code, &inst.Name, &inst.CreatedAt); err != nil {
			return nil, err
		}
		instruments = append(instruments, inst)
	}
	return instruments, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	var acct Account
	var cashStr string
	row := s.pool.QueryRow(ctx, `
		SELECT id, member_name, cash_balance::text, created_at, updated_at
		FROM accounts WHERE id = $1
	`, accountID)
	if err := row.Scan(&acct.ID, &acct.MemberName, &cashStr, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return nil, fmt.Errorf("parse cash balance: %w", err)
	}
	acct.CashBalance = cash
	return &acct, nil
}

func (s *Store) ListHoldings(ctx context.Context, accountID uuid.UUID) ([]Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, instrument, quantity::text, updated_at
		FROM account_stocks
		WHERE account_id = $1 AND quantity > 0
		ORDER BY instrument
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings := []Holding{}
	for rows.Next() {
		var h Holding
		var qtyStr string
		if err := rows.Scan(&h.AccountID, &h.Instrument, &qtyStr, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Quantity, err = decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("parse held quantity: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanOrderRow(row pgx.Row) (*Order, error) {
	var order Order
	var priceStr, qtyStr, filledStr string
	if err := row.Scan(
		&order.ID, &order.AccountID, &order.Instrument, &order.Side,
		&priceStr, &qtyStr, &filledStr, &order.Status,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if order.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if order.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if order.FilledQuantity, err = decimal.NewFromString(filledStr); err != nil {
		return nil, fmt.Errorf("parse filled quantity: %w", err)
	}
	return &order, nil
}

func encodeCursor(createdAt time.Time, id uuid.UUID) string {
	raw := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), id)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return at, id, nil
}
