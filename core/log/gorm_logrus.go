package log

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// GormLogrus adapts logrus to gorm's logger interface.
type GormLogrus struct {
	Log                   *logrus.Entry
	SlowThreshold         time.Duration
	SourceField           string
	SkipErrRecordNotFound bool
	LogLevel              gormlogger.LogLevel
}

func NewGormLogrus(l *logrus.Logger) *GormLogrus {
	return &GormLogrus{
		Log:                   l.WithField("component", "gorm"),
		SkipErrRecordNotFound: true,
		LogLevel:              gormlogger.Warn,
		SlowThreshold:         100 * time.Millisecond,
		SourceField:           "source",
	}
}

func (l *GormLogrus) LogMode(lv gormlogger.LogLevel) gormlogger.Interface {
	ret := *l
	ret.LogLevel = lv
	return &ret
}

func (l *GormLogrus) Info(ctx context.Context, s string, args ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.Log.WithContext(ctx).Infof(s, args...)
	}
}

func (l *GormLogrus) Warn(ctx context.Context, s string, args ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.Log.WithContext(ctx).Warnf(s, args...)
	}
}

func (l *GormLogrus) Error(ctx context.Context, s string, args ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.Log.WithContext(ctx).Errorf(s, args...)
	}
}

func (l *GormLogrus) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := logrus.Fields{}
	if l.SourceField != "" {
		fields[l.SourceField] = utils.FileWithLineNum()
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && !(errors.Is(err, gorm.ErrRecordNotFound) && l.SkipErrRecordNotFound):
		sql, rows := fc()
		fields[logrus.ErrorKey] = err
		fields["rows"] = rows
		l.Log.WithContext(ctx).WithFields(fields).Errorf("[%s] %s", elapsed, sql)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		sql, rows := fc()
		fields["rows"] = rows
		l.Log.WithContext(ctx).WithFields(fields).Warnf("[slow sql] [%s] %s", elapsed, sql)
	case l.LogLevel == gormlogger.Info:
		sql, rows := fc()
		fields["rows"] = rows
		l.Log.WithContext(ctx).WithFields(fields).Infof("[%s] %s", elapsed, sql)
	}
}
