package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]
)

func init() {
	levelVar.Set(slog.LevelInfo)
	SetOutput(os.Stdout)
}

// SetOutput 替换全部日志输出目标，已创建的 Scoped 立即生效。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	current.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})))
}

// SetLevel 支持 debug/info/warn/error，无法识别时回落到 info。
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logf(l *slog.Logger, level slog.Level, format string, v []any) {
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(current.Load(), slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(current.Load(), slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(current.Load(), slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(current.Load(), slog.LevelError, format, v) }

// Scoped 给日志附带 component 字段，便于按模块过滤。
type Scoped struct {
	component string
}

func With(component string) *Scoped {
	return &Scoped{component: strings.TrimSpace(component)}
}

func (s *Scoped) logger() *slog.Logger {
	l := current.Load()
	if s == nil || s.component == "" {
		return l
	}
	return l.With("component", s.component)
}

func (s *Scoped) Debugf(format string, v ...any) { logf(s.logger(), slog.LevelDebug, format, v) }

func (s *Scoped) Infof(format string, v ...any) { logf(s.logger(), slog.LevelInfo, format, v) }

func (s *Scoped) Warnf(format string, v ...any) { logf(s.logger(), slog.LevelWarn, format, v) }

func (s *Scoped) Errorf(format string, v ...any) { logf(s.logger(), slog.LevelError, format, v) }
