// Package logging 提供统一的日志接口抽象
package logging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// Level 日志级别
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String 返回级别标签
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析级别名称（大小写不敏感），未知名称返回 InfoLevel 与 false
func ParseLevel(name string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, true
	case "info", "":
		return InfoLevel, true
	case "warn", "warning":
		return WarnLevel, true
	case "error":
		return ErrorLevel, true
	default:
		return InfoLevel, false
	}
}

// Logger 日志接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithFields 添加字段，返回新的Logger
	WithFields(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

// 字段构造函数
func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Any(key string, value any) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Error(err error) Field { return Field{Key: "error", Value: err} }

// Component 组件名字段，约定 key 为 component
func Component(name string) Field { return Field{Key: "component", Value: name} }

// StdLogger 标准库log实现，低于 level 的日志直接丢弃
type StdLogger struct {
	prefix string
	level  Level
	fields []Field
	out    *log.Logger
}

// NewStdLogger 创建标准库Logger
func NewStdLogger(prefix string, level Level) *StdLogger {
	return &StdLogger{
		prefix: prefix,
		level:  level,
		out:    log.Default(),
	}
}

// SetOutput 替换底层输出（测试时常用）
func (l *StdLogger) SetOutput(out *log.Logger) {
	if out != nil {
		l.out = out
	}
}

func (l *StdLogger) format(level Level, msg string, fields []Field) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(level.String())
	sb.WriteString("]")
	if l.prefix != "" {
		sb.WriteString(" ")
		sb.WriteString(l.prefix)
	}
	sb.WriteString(" ")
	sb.WriteString(msg)
	for _, f := range l.fields {
		sb.WriteString(" " + f.Key + "=" + formatValue(f.Value))
	}
	for _, f := range fields {
		sb.WriteString(" " + f.Key + "=" + formatValue(f.Value))
	}
	return sb.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func (l *StdLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	l.out.Println(l.format(level, msg, fields))
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(DebugLevel, msg, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(InfoLevel, msg, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(WarnLevel, msg, fields)
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ErrorLevel, msg, fields)
}

func (l *StdLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, len(l.fields)+len(fields))
	copy(merged, l.fields)
	copy(merged[len(l.fields):], fields)
	return &StdLogger{
		prefix: l.prefix,
		level:  l.level,
		fields: merged,
		out:    l.out,
	}
}

// NoopLogger 空日志实现（用于测试）
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) WithFields(fields ...Field) Logger                      { return l }

// 全局Logger
var globalLogger Logger = NewStdLogger("", InfoLevel)

// SetLogger 设置全局Logger
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	globalLogger = logger
}

// GetLogger 获取全局Logger
func GetLogger() Logger {
	return globalLogger
}

// ComponentLogger 返回带 component 字段的全局Logger
func ComponentLogger(name string) Logger {
	return GetLogger().WithFields(Component(name))
}
