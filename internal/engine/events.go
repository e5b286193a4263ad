package engine

import "github.com/Industry-Academic-SW-Capstone/trading-engine/libs/kafka"

// ExecutionCompletedEvent is the outbound trade-completed event consumed
// by the notification and mission collaborators.
type ExecutionCompletedEvent struct {
	kafka.Envelope
	ExecutionID string `json:"execution_id"`
	OrderID     string `json:"order_id"`
	AccountID   string `json:"account_id"`
	Instrument  string `json:"instrument"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	ExecutedAt  string `json:"executed_at"`
}
