package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// IgnoreRecordNotFound drops "record not found" errors; a user who never
	// subscribed is a normal read.
	IgnoreRecordNotFound bool
}

// GormLoggerConfigForLevel maps the application log level onto gorm's:
// debug logs every statement, error only failed ones, anything else failed
// and slow ones.
func GormLoggerConfigForLevel(level string) GormLoggerConfig {
	cfg := GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		cfg.Level = gormlogger.Info
	case "error":
		cfg.Level = gormlogger.Error
	}
	return cfg
}

// GormLogger writes gorm messages and statements through the request logger
// taken from the statement context.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, msg, data)
}

func (l *GormLogger) message(ctx context.Context, level gormlogger.LogLevel, msg string, data []interface{}) {
	if l.cfg.Level < level {
		return
	}
	if ce := FromContext(ctx).Check(zapLevel(level), msg); ce != nil {
		ce.Write(zap.String("component", "gorm"), zap.Any("data", data))
	}
}

// Trace logs a finished statement: failures at error, slow statements at
// warn, everything else at debug when the gorm level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level zapcore.Level
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !l.ignorable(err):
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level, err = zapcore.WarnLevel, nil
	case l.cfg.Level >= gormlogger.Info:
		level, err = zapcore.DebugLevel, nil
	default:
		return
	}

	ce := FromContext(ctx).Check(level, "gorm.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", statementVerb(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values so subscription ids and emails never reach
// the logs.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) ignorable(err error) bool {
	return l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)
}

func zapLevel(level gormlogger.LogLevel) zapcore.Level {
	switch level {
	case gormlogger.Error:
		return zapcore.ErrorLevel
	case gormlogger.Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// statementVerb returns the first DML keyword.
func statementVerb(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		switch token = strings.Trim(token, "();"); token {
		case "SELECT", "INSERT", "UPDATE", "DELETE", "MERGE":
			return token
		}
	}
	return "UNKNOWN"
}

var _ gormlogger.Interface = (*GormLogger)(nil)
