package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderState is a position lifecycle state
type OrderState string

const (
	OrderPending         OrderState = "pending"
	OrderSubmitted       OrderState = "submitted"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderClosed          OrderState = "closed"
	OrderCancelled       OrderState = "cancelled"
	OrderRejected        OrderState = "rejected"
	OrderError           OrderState = "error"
)

// IsTerminal reports whether the state has no outgoing transitions
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderClosed, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// Order is a tracked position with its lifecycle state
type Order struct {
	ID              string
	SignalID        *int64
	ExchangeOrderID string
	Symbol          string
	Direction       SignalDirection
	State           OrderState

	EntryPrice       float64
	StopLoss         float64
	OriginalStopLoss float64
	TakeProfit1      float64
	TakeProfit2      *float64
	TakeProfit3      *float64

	// SLTrailStage advances 0 -> 1 -> 2 and never decreases
	SLTrailStage int
	// TPStage is 0 before the TP1 partial close, 1 after
	TPStage int

	Quantity          float64
	RemainingQuantity float64
	FilledQuantity    float64
	FilledPrice       float64
	PnL               float64
	Fees              float64

	Broker    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	errorRecoveries int
}

// NewOrder constructs a Pending order for a validated signal
func NewOrder(symbol string, direction SignalDirection, entry, stopLoss, tp1 float64, quantity float64, broker string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:                uuid.New().String(),
		Symbol:            symbol,
		Direction:         direction,
		State:             OrderPending,
		EntryPrice:        entry,
		StopLoss:          stopLoss,
		OriginalStopLoss:  stopLoss,
		TakeProfit1:       tp1,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Broker:            broker,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsLong reports whether the order is a long position
func (o *Order) IsLong() bool {
	return o.Direction == DirectionLong
}
