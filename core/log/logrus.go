package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

// New builds a logrus logger writing to out. Used where a library wants a
// logrus-style sink (gorm) while the rest of the process logs through slog.
func New(out io.Writer, lvstr string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})

	lv, err := logrus.ParseLevel(lvstr)
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.SetLevel(lv)
	return l
}
