package utils

import (
	"io"
	"log"
	"os"
	"strings"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel переводит строку из LOG_LEVEL в LogLevel (по умолчанию INFO)
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

type Logger struct {
	level     LogLevel
	component string
	logger    *log.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

func NewLogger(levelStr string) *Logger {
	return NewLoggerTo(os.Stdout, levelStr)
}

// NewLoggerTo создает логгер, пишущий в w
func NewLoggerTo(w io.Writer, levelStr string) *Logger {
	return &Logger{
		level:  ParseLevel(levelStr),
		logger: log.New(w, "", log.LstdFlags),
	}
}

// Named возвращает логгер с тем же выводом и уровнем, но с префиксом компонента
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		level:     l.level,
		component: component,
		logger:    l.logger,
	}
}

// Level возвращает текущий уровень логгера
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) printf(level LogLevel, format string, v ...interface{}) {
	if l.level > level {
		return
	}
	prefix := "[" + level.String() + "] "
	if l.component != "" {
		prefix += "[" + l.component + "] "
	}
	l.logger.Printf(prefix+format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.printf(DEBUG, format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.printf(INFO, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.printf(WARN, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.printf(ERROR, format, v...)
}

// SetDefault заменяет глобальный логгер (вызывается один раз из main)
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default возвращает глобальный логгер
func Default() *Logger {
	return defaultLogger
}

// Global logging functions
func LogDebug(msg string) {
	defaultLogger.Debug("%s", msg)
}

func LogInfo(msg string) {
	defaultLogger.Info("%s", msg)
}

func LogWarn(msg string) {
	defaultLogger.Warn("%s", msg)
}

func LogError(msg string) {
	defaultLogger.Error("%s", msg)
}
