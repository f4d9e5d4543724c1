package o11y

import (
	"context"
	"log/slog"
)

// LoggerFromContext returns a logger whose output lands in the current
// span, keeping request-scoped log lines attached to their trace.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	span := GetSpan(ctx)
	return slog.New(slog.NewJSONHandler(span, nil))
}
