package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
	"github.com/quantfold/divergent/internal/models"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one outbound notification
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]any
}

// Alerter is a delivery channel for alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. Delivery
// failures are logged and do not block the trading path.
type Manager struct {
	alerters []Alerter
	logger   zerolog.Logger
}

// NewManager creates an alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		logger:   config.NewLogger("alerts"),
	}
}

// Send delivers an alert to all channels, returning the last error
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			m.logger.Error().Err(err).Str("title", alert.Title).Msg("failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// SendInfo sends an informational alert
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityInfo, Metadata: metadata})
}

// SendWarning sends a warning alert
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityWarning, Metadata: metadata})
}

// SendCritical sends a critical alert
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]any) error {
	return m.Send(ctx, Alert{Title: title, Message: message, Severity: SeverityCritical, Metadata: metadata})
}

// SendSignal announces a validated divergence signal
func (m *Manager) SendSignal(ctx context.Context, sig *models.Signal, score float64) error {
	metadata := map[string]any{
		"symbol":     sig.Symbol,
		"timeframe":  sig.Timeframe,
		"direction":  string(sig.Direction),
		"type":       string(sig.DivergenceType),
		"confidence": fmt.Sprintf("%.2f", sig.Confidence),
		"score":      fmt.Sprintf("%.1f", score),
	}
	if sig.HasLevels() {
		metadata["entry"] = fmt.Sprintf("%.5g", *sig.EntryPrice)
		metadata["stop"] = fmt.Sprintf("%.5g", *sig.StopLoss)
		metadata["tp1"] = fmt.Sprintf("%.5g", *sig.TakeProfit1)
	}
	return m.SendInfo(ctx,
		fmt.Sprintf("Signal: %s %s", sig.Symbol, sig.Direction),
		sig.Reasoning, metadata)
}

// SendOrderOpened announces a newly placed position
func (m *Manager) SendOrderOpened(ctx context.Context, o *models.Order) error {
	return m.SendInfo(ctx,
		fmt.Sprintf("Opened: %s %s", o.Symbol, o.Direction),
		fmt.Sprintf("Entry %.5g, stop %.5g, tp1 %.5g", o.EntryPrice, o.StopLoss, o.TakeProfit1),
		map[string]any{
			"order_id": o.ID,
			"broker":   o.Broker,
			"quantity": fmt.Sprintf("%.6g", o.Quantity),
		})
}

// SendOrderClosed announces a fully closed position
func (m *Manager) SendOrderClosed(ctx context.Context, o *models.Order, exitPrice float64, reason string) error {
	severity := SeverityInfo
	if o.PnL < 0 {
		severity = SeverityWarning
	}
	return m.Send(ctx, Alert{
		Title:    fmt.Sprintf("Closed: %s %s", o.Symbol, o.Direction),
		Message:  fmt.Sprintf("%s at %.5g, PnL %.2f", reason, exitPrice, o.PnL),
		Severity: severity,
		Metadata: map[string]any{
			"order_id": o.ID,
			"broker":   o.Broker,
			"fees":     fmt.Sprintf("%.4f", o.Fees),
		},
	})
}

// SendPartialClose announces a TP1 partial profit take
func (m *Manager) SendPartialClose(ctx context.Context, o *models.Order, closedQty, exitPrice float64) error {
	return m.SendInfo(ctx,
		fmt.Sprintf("Partial close: %s %s", o.Symbol, o.Direction),
		fmt.Sprintf("Took %.6g off at %.5g, stop moved to breakeven, %.6g still running",
			closedQty, exitPrice, o.RemainingQuantity),
		map[string]any{"order_id": o.ID, "broker": o.Broker})
}
