package models

import (
	"fmt"
	"time"
)

// InvalidTransitionError marks a programmer error in the order lifecycle.
// Callers abort the current order operation but keep the process running.
type InvalidTransitionError struct {
	OrderID string
	From    OrderState
	To      OrderState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order state transition %s -> %s (order %s)", e.From, e.To, e.OrderID)
}

// orderTransitions is the full lifecycle graph. Terminal states
// (closed, cancelled, rejected) have no outgoing edges.
var orderTransitions = map[OrderState][]OrderState{
	OrderPending:         {OrderSubmitted, OrderCancelled, OrderError},
	OrderSubmitted:       {OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected, OrderError},
	OrderPartiallyFilled: {OrderFilled, OrderCancelled, OrderError},
	OrderFilled:          {OrderClosed},
	OrderError:           {OrderPending},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to OrderState) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the order to a new state, enforcing the lifecycle graph.
// Error -> Pending recovery is allowed once per order.
func (o *Order) Transition(to OrderState) error {
	if !CanTransition(o.State, to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.State, To: to}
	}

	if o.State == OrderError && to == OrderPending {
		if o.errorRecoveries >= 1 {
			return &InvalidTransitionError{OrderID: o.ID, From: o.State, To: to}
		}
		o.errorRecoveries++
	}

	now := time.Now().UTC()
	o.State = to
	o.UpdatedAt = now
	if to.IsTerminal() {
		o.ClosedAt = &now
	}
	return nil
}
