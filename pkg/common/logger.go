package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      LogLevel `yaml:"level"`       // 日志级别
	Filename   string   `yaml:"file"`        // 日志文件路径，为空时只输出到控制台
	MaxSize    int      `yaml:"max_size"`    // 单个日志文件最大大小（MB）
	MaxBackups int      `yaml:"max_backups"` // 最大保留历史日志文件数
	MaxAge     int      `yaml:"max_age"`     // 日志文件保留天数
	Compress   bool     `yaml:"compress"`    // 是否压缩历史日志
	Console    bool     `yaml:"console"`     // 是否同时输出到控制台
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      InfoLevel,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Console:    true,
	}
}

// Logger 包装 zap.Logger，附带可动态调整的级别
type Logger struct {
	zap    *zap.Logger
	atom   zap.AtomicLevel
	closer io.Closer
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

func init() {
	logger, err := NewLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("初始化默认日志器失败: %v", err))
	}
	defaultLogger = logger
}

// GetLogger 获取默认日志器
func GetLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLogger 替换默认日志器
func SetLogger(logger *Logger) {
	if logger == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// NewLogger 根据配置创建日志器
func NewLogger(cfg LogConfig) (*Logger, error) {
	var writers []io.Writer
	var rotate *lumberjack.Logger

	atom := zap.NewAtomicLevelAt(toZapLevel(cfg.Level))

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		rotate = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotate)
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(io.MultiWriter(writers...)),
		atom,
	)

	l := &Logger{
		zap:  zap.New(core, zap.AddCaller()),
		atom: atom,
	}
	if rotate != nil {
		l.closer = rotate
	}
	return l, nil
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 动态设置日志级别
func (l *Logger) SetLevel(level LogLevel) {
	l.atom.SetLevel(toZapLevel(level))
}

// Level 当前日志级别
func (l *Logger) Level() zapcore.Level {
	return l.atom.Level()
}

// GetZapLogger 获取指定名称的 zap 日志器，各组件以此区分日志来源
func (l *Logger) GetZapLogger(name string) *zap.Logger {
	return l.zap.Named(name)
}

// ZapLogger 获取底层的 zap.Logger
func (l *Logger) ZapLogger() *zap.Logger {
	return l.zap
}

// With 创建带固定字段的日志器
func (l *Logger) With(fields ...zapcore.Field) *Logger {
	return &Logger{
		zap:    l.zap.With(fields...),
		atom:   l.atom,
		closer: l.closer,
	}
}

// Sync 刷新缓冲并关闭滚动文件
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if l.closer != nil {
		if cerr := l.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Field 日志字段
type Field = zapcore.Field

// 常用字段构造函数
var (
	Any        = zap.Any
	Bool       = zap.Bool
	Duration   = zap.Duration
	Int        = zap.Int
	Int64      = zap.Int64
	String     = zap.String
	Strings    = zap.Strings
	ErrorField = zap.Error
)
