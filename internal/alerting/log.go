package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes alerts to the log instead of delivering them.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier for environments without a transport.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify always succeeds.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Int64("alert_id", note.AlertID).
		Str("recipient", note.Recipient).
		Str("product", note.ProductName).
		Str("region", note.Region).
		Str("current_price", note.CurrentPrice.String()).
		Str("target_price", note.TargetPrice.String()).
		Str("condition", note.Condition).
		Msg(renderSubject(note))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
