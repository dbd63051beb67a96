package logger

import (
	"fmt"
	"log/slog"

	"github.com/kvblast/kvblast/theme"
)

// PrettyStyledLogger implements StyledLogger with pterm formatting
type PrettyStyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewPrettyStyledLogger(logger *slog.Logger, theme *theme.Theme) *PrettyStyledLogger {
	return &PrettyStyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PrettyStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PrettyStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PrettyStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PrettyStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *PrettyStyledLogger) InfoWithServer(msg string, server string, args ...any) {
	sl.logger.Info(sl.withServer(msg, server), args...)
}

func (sl *PrettyStyledLogger) WarnWithServer(msg string, server string, args ...any) {
	sl.logger.Warn(sl.withServer(msg, server), args...)
}

func (sl *PrettyStyledLogger) ErrorWithServer(msg string, server string, args ...any) {
	sl.logger.Error(sl.withServer(msg, server), args...)
}

func (sl *PrettyStyledLogger) withServer(msg, server string) string {
	return fmt.Sprintf("%s %s", msg, sl.Theme.Server.Sprint(server))
}
