package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Peripheral != "" {
		attrs = append(attrs, slog.String("peripheral", event.Peripheral))
	}

	switch {
	case event.Transaction != nil:
		tx := event.Transaction
		attrs = append(attrs,
			slog.Uint64("tx", tx.ID),
			slog.String("kind", tx.Kind),
			slog.String("attr", tx.Attribute),
			slog.String("phase", tx.Phase.String()),
		)
		if tx.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", tx.Attempt))
		}
		if tx.Status != nil {
			attrs = append(attrs, slog.Int("status", int(*tx.Status)))
		}
		if len(tx.Payload) > 0 {
			attrs = append(attrs, slog.String("payload", hex.EncodeToString(tx.Payload)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Notification != nil:
		n := event.Notification
		attrs = append(attrs,
			slog.String("attr", n.Attribute),
			slog.String("payload", hex.EncodeToString(n.Payload)),
			slog.Bool("forwarded", n.Forwarded),
		)
		if n.Value != nil {
			attrs = append(attrs, slog.Float64("value", *n.Value))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Attribute != "" {
			attrs = append(attrs, slog.String("attr", event.Error.Attribute))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
