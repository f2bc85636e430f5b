package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ajenpan/surfmatch/core/utils/logrotate"
)

type Options struct {
	Level      string
	Dir        string
	Prefix     string
	RotateTime time.Duration
	MaxAge     time.Duration
	Stdout     bool
}

type Logger struct {
	level  *slog.LevelVar
	impl   *slog.Logger
	out    io.Writer
	rotate *logrotate.RotateLog
}

func New(opts Options) (*Logger, error) {
	lv, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	level := &slog.LevelVar{}
	level.Set(lv)

	ret := &Logger{level: level}

	var writers []io.Writer
	if opts.Dir != "" {
		prefix := opts.Prefix
		if prefix == "" {
			prefix = "server"
		}
		ret.rotate, err = logrotate.New(opts.Dir, prefix,
			logrotate.WithRotateTime(opts.RotateTime),
			logrotate.WithMaxAge(opts.MaxAge))
		if err != nil {
			return nil, err
		}
		writers = append(writers, ret.rotate)
	}
	if opts.Stdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	ret.out = io.MultiWriter(writers...)
	ret.impl = slog.New(slog.NewTextHandler(ret.out, &slog.HandlerOptions{Level: level}))
	return ret, nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

func (l *Logger) Slog() *slog.Logger {
	return l.impl
}

// Writer is the sink shared with non-slog loggers (gorm via logrus).
func (l *Logger) Writer() io.Writer {
	return l.out
}

func (l *Logger) Close() error {
	if l.rotate != nil {
		return l.rotate.Close()
	}
	return nil
}
