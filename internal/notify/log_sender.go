package notify

import (
	"context"
	"log/slog"

	"kinwatch/internal/platform/logger"
)

// LogSender writes messages to the log instead of sending them. It is the
// sender used when no SMS gateway is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(ctx context.Context, phone, text string) error {
	s.logger.InfoContext(ctx, "sms (log only)",
		"phone", logger.MaskPhone(phone),
		"text", text,
	)
	return nil
}
