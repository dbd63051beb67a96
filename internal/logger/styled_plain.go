package logger

import (
	"fmt"
	"log/slog"
)

// PlainStyledLogger implements StyledLogger without formatting
type PlainStyledLogger struct {
	logger *slog.Logger
}

func NewPlainStyledLogger(logger *slog.Logger) *PlainStyledLogger {
	return &PlainStyledLogger{
		logger: logger,
	}
}

func (sl *PlainStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PlainStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PlainStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PlainStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PlainStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s (%d)", msg, count)
	sl.logger.Info(styledMsg, args...)
}

func (sl *PlainStyledLogger) InfoWithServer(msg string, server string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, server), args...)
}

func (sl *PlainStyledLogger) WarnWithServer(msg string, server string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, server), args...)
}

func (sl *PlainStyledLogger) ErrorWithServer(msg string, server string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, server), args...)
}
