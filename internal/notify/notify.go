// Package notify delivers operator alerts for events that need human
// attention: fills, emergency closes, API pauses, recovery on startup.
// Delivery is best-effort; a failed notification never blocks trading.
package notify

import "log/slog"

// Sink receives operator notifications.
type Sink interface {
	Notify(text string)
}

// LogSink writes notifications to the structured log. It is the fallback
// sink when Telegram is not configured, and dry-run's default.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed notification sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

// Notify logs the message at warn level so it stands out in the stream.
func (s *LogSink) Notify(text string) {
	s.logger.Warn("ALERT", "message", text)
}
