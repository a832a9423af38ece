package observability

import (
	"log/slog"

	"github.com/tphakala/heapbridge/internal/logging"
)

// telemetryLogger returns the telemetry logger, falling back to the default logger
// when logging has not been initialized
func telemetryLogger() *slog.Logger {
	if l := logging.ForService("telemetry"); l != nil {
		return l
	}
	return slog.Default()
}
