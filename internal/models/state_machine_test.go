package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder() *Order {
	return NewOrder("BTC/USDT", DirectionLong, 100, 95, 110, 10, "binance")
}

func TestHappyPathLifecycle(t *testing.T) {
	o := newTestOrder()
	require.Equal(t, OrderPending, o.State)

	require.NoError(t, o.Transition(OrderSubmitted))
	require.NoError(t, o.Transition(OrderFilled))
	require.NoError(t, o.Transition(OrderClosed))

	assert.True(t, o.State.IsTerminal())
	assert.NotNil(t, o.ClosedAt)
}

func TestPartialFillPath(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.Transition(OrderSubmitted))
	require.NoError(t, o.Transition(OrderPartiallyFilled))
	require.NoError(t, o.Transition(OrderFilled))
	require.NoError(t, o.Transition(OrderClosed))
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from OrderState
		to   OrderState
	}{
		{"pending to filled", OrderPending, OrderFilled},
		{"pending to closed", OrderPending, OrderClosed},
		{"filled to cancelled", OrderFilled, OrderCancelled},
		{"closed to anything", OrderClosed, OrderPending},
		{"cancelled out", OrderCancelled, OrderSubmitted},
		{"rejected out", OrderRejected, OrderPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder()
			o.State = tt.from
			err := o.Transition(tt.to)
			require.Error(t, err)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, tt.from, ite.From)
			assert.Equal(t, tt.to, ite.To)
		})
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []OrderState{OrderClosed, OrderCancelled, OrderRejected} {
		assert.Empty(t, orderTransitions[s], "state %s", s)
		assert.True(t, s.IsTerminal())
	}
}

func TestErrorRecoversToPendingOnce(t *testing.T) {
	o := newTestOrder()
	require.NoError(t, o.Transition(OrderError))
	require.NoError(t, o.Transition(OrderPending))

	require.NoError(t, o.Transition(OrderError))
	err := o.Transition(OrderPending)
	require.Error(t, err)
}

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, DirectionShort, DirectionLong.Opposite())
	assert.Equal(t, DirectionLong, DirectionShort.Opposite())
}

func TestTickerMid(t *testing.T) {
	assert.Equal(t, 101.0, Ticker{Last: 99, Bid: 100, Ask: 102}.Mid())
	assert.Equal(t, 99.0, Ticker{Last: 99}.Mid())
}

func TestLastValidSkipsMissing(t *testing.T) {
	series := []float64{Missing, 1.5, 2.5, Missing}
	v, ok := LastValid(series)
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok = LastValid([]float64{Missing, Missing})
	assert.False(t, ok)
}
