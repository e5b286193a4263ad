package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Instrument     string
	Side           string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

type Execution struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	AccountID  uuid.UUID
	Instrument string
	Side       string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	SignalID   string
	CreatedAt  time.Time
}

type Account struct {
	ID          uuid.UUID
	MemberName  string
	CashBalance decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Holding struct {
	AccountID  uuid.UUID
	Instrument string
	Quantity   decimal.Decimal
	UpdatedAt  time.Time
}

type Instrument struct {
	Code      string
	Name      string
	CreatedAt time.Time
}

type OrderFilter struct {
	AccountID  uuid.UUID
	Instrument string
	Status     string
	Cursor     string
	Limit      int
}
