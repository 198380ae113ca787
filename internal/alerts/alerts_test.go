package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/divergent/internal/models"
)

// MockAlerter captures alerts for inspection
type MockAlerter struct {
	alerts []Alert
	err    error
}

func (m *MockAlerter) Send(ctx context.Context, alert Alert) error {
	if m.err != nil {
		return m.err
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

func TestManagerFansOutToAllChannels(t *testing.T) {
	a := &MockAlerter{}
	b := &MockAlerter{}
	m := NewManager(a, b)

	err := m.SendWarning(context.Background(), "test", "hello", nil)
	require.NoError(t, err)

	require.Len(t, a.alerts, 1)
	require.Len(t, b.alerts, 1)
	assert.Equal(t, SeverityWarning, a.alerts[0].Severity)
	assert.False(t, a.alerts[0].Timestamp.IsZero(), "manager must stamp the alert")
}

func TestManagerContinuesPastFailingChannel(t *testing.T) {
	failing := &MockAlerter{err: errors.New("boom")}
	healthy := &MockAlerter{}
	m := NewManager(failing, healthy)

	err := m.SendInfo(context.Background(), "test", "hello", nil)
	assert.Error(t, err, "the last channel error is surfaced")
	require.Len(t, healthy.alerts, 1, "healthy channels still receive the alert")
}

func TestSeverityHelpers(t *testing.T) {
	mock := &MockAlerter{}
	m := NewManager(mock)

	require.NoError(t, m.SendInfo(context.Background(), "i", "m", nil))
	require.NoError(t, m.SendWarning(context.Background(), "w", "m", nil))
	require.NoError(t, m.SendCritical(context.Background(), "c", "m", nil))

	require.Len(t, mock.alerts, 3)
	assert.Equal(t, SeverityInfo, mock.alerts[0].Severity)
	assert.Equal(t, SeverityWarning, mock.alerts[1].Severity)
	assert.Equal(t, SeverityCritical, mock.alerts[2].Severity)
}

func TestSendSignalIncludesLevels(t *testing.T) {
	mock := &MockAlerter{}
	m := NewManager(mock)

	sig := &models.Signal{
		DivergenceDetected: true,
		DivergenceType:     models.BullishRegular,
		Direction:          models.DirectionLong,
		Symbol:             "BTC/USDT",
		Timeframe:          "4h",
		Confidence:         0.85,
		EntryPrice:         models.Float64Ptr(50000),
		StopLoss:           models.Float64Ptr(49000),
		TakeProfit1:        models.Float64Ptr(52000),
		Reasoning:          "bullish divergence: 3/3 oscillators confirming (RSI,MACD,OBV).",
	}

	require.NoError(t, m.SendSignal(context.Background(), sig, 7.5))

	require.Len(t, mock.alerts, 1)
	alert := mock.alerts[0]
	assert.Equal(t, "Signal: BTC/USDT long", alert.Title)
	assert.Equal(t, sig.Reasoning, alert.Message)
	assert.Equal(t, "50000", alert.Metadata["entry"])
	assert.Equal(t, "7.5", alert.Metadata["score"])
}

func TestSendOrderClosedSeverityTracksPnL(t *testing.T) {
	mock := &MockAlerter{}
	m := NewManager(mock)

	winner := models.NewOrder("BTC/USDT", models.DirectionLong, 100, 95, 110, 1, "binance")
	winner.PnL = 10
	require.NoError(t, m.SendOrderClosed(context.Background(), winner, 110, "Take profit 2 hit"))

	loser := models.NewOrder("BTC/USDT", models.DirectionLong, 100, 95, 110, 1, "binance")
	loser.PnL = -5
	require.NoError(t, m.SendOrderClosed(context.Background(), loser, 95, "Stop loss hit"))

	require.Len(t, mock.alerts, 2)
	assert.Equal(t, SeverityInfo, mock.alerts[0].Severity)
	assert.Equal(t, SeverityWarning, mock.alerts[1].Severity)
}

func TestTelegramFormatAlert(t *testing.T) {
	ta := &TelegramAlerter{}

	alert := Alert{
		Title:    "Closed: BTC/USDT long",
		Message:  "Stop loss hit at 95, PnL -5.00",
		Severity: SeverityWarning,
		Metadata: map[string]any{"broker": "binance", "order_id": "abc"},
	}
	text := ta.formatAlert(alert)

	assert.Contains(t, text, "⚠️ *Closed: BTC/USDT long*")
	assert.Contains(t, text, "Stop loss hit at 95")
	assert.Contains(t, text, "• *broker*: binance")
	assert.Contains(t, text, "• *order_id*: abc")
}
