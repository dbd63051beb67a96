package logger

// StyledLogger is the logging surface the rest of the process uses; the
// pretty variant decorates server names and counters with the active theme,
// the plain variant is for pipes and log files.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithServer(msg string, server string, args ...any)
	WarnWithServer(msg string, server string, args ...any)
	ErrorWithServer(msg string, server string, args ...any)
}
