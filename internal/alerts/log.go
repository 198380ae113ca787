package alerts

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfold/divergent/internal/config"
)

// LogAlerter writes alerts to the structured log. It is always wired,
// so every alert is visible even when no external channel is configured.
type LogAlerter struct {
	logger zerolog.Logger
}

// NewLogAlerter creates a log-backed alert channel
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: config.NewLogger("alert")}
}

// Send writes the alert at a level matching its severity
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	var evt *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		evt = l.logger.Error()
	case SeverityWarning:
		evt = l.logger.Warn()
	default:
		evt = l.logger.Info()
	}

	for k, v := range alert.Metadata {
		evt = evt.Interface(k, v)
	}
	evt.Str("title", alert.Title).Msg(alert.Message)
	return nil
}
