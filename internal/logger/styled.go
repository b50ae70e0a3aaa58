package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/fleetmon/fleetmon/theme"
)

// StyledLogger wraps slog.Logger with Theme-aware formatting
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) *StyledLogger {
	if appTheme == nil {
		appTheme = theme.Default()
	}
	return &StyledLogger{
		logger: logger,
		Theme:  appTheme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Server}.Sprint(server))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Server}.Sprint(server))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Server}.Sprint(server))
	sl.logger.Error(styledMsg, args...)
}

// InfoServerStatus logs an online/offline transition with the status
// word coloured to match.
func (sl *StyledLogger) InfoServerStatus(msg string, server string, online bool, args ...any) {
	statusColor := sl.Theme.StatusOffline
	statusText := "offline"
	if online {
		statusColor = sl.Theme.StatusOnline
		statusText = "online"
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg,
		pterm.Style{sl.Theme.Server}.Sprint(server),
		pterm.Style{statusColor}.Sprint(statusText))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}
