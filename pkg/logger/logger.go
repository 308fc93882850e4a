// Package logger provides logging implementations for Grantly
package logger

import (
	"fmt"
	"log"
	"os"

	"github.com/grantly/grantly/pkg/interfaces"
)

// ConsoleLogger writes structured lines to the standard logger
type ConsoleLogger struct {
	Level  string
	fields map[string]interface{}
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(level string) interfaces.Logger {
	return &ConsoleLogger{Level: level}
}

// Debug logs debug level messages
func (l *ConsoleLogger) Debug(msg string, fields ...map[string]interface{}) {
	if l.Level == "debug" {
		l.logWithFields("DEBUG", msg, fields...)
	}
}

// Info logs info level messages
func (l *ConsoleLogger) Info(msg string, fields ...map[string]interface{}) {
	if l.Level != "warn" && l.Level != "error" {
		l.logWithFields("INFO", msg, fields...)
	}
}

// Warn logs warning level messages
func (l *ConsoleLogger) Warn(msg string, fields ...map[string]interface{}) {
	if l.Level != "error" {
		l.logWithFields("WARN", msg, fields...)
	}
}

// Error logs error level messages
func (l *ConsoleLogger) Error(msg string, err error, fields ...map[string]interface{}) {
	var allFields []map[string]interface{}
	if err != nil {
		allFields = append(allFields, map[string]interface{}{"error": err.Error()})
	}
	allFields = append(allFields, fields...)
	l.logWithFields("ERROR", msg, allFields...)
}

// WithFields returns a logger carrying additional fields on every line
func (l *ConsoleLogger) WithFields(fields map[string]interface{}) interfaces.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ConsoleLogger{Level: l.Level, fields: merged}
}

func (l *ConsoleLogger) logWithFields(level, msg string, fields ...map[string]interface{}) {
	logMsg := fmt.Sprintf("[%s] %s", level, msg)

	for k, v := range l.fields {
		logMsg += fmt.Sprintf(" %s=%v", k, v)
	}
	for _, fieldMap := range fields {
		for key, value := range fieldMap {
			logMsg += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	log.Println(logMsg)
}

// NoopLogger discards everything. Useful as a default in library contexts
// where the caller did not wire a logger.
type NoopLogger struct{}

func (NoopLogger) Debug(msg string, fields ...map[string]interface{})            {}
func (NoopLogger) Info(msg string, fields ...map[string]interface{})             {}
func (NoopLogger) Warn(msg string, fields ...map[string]interface{})             {}
func (NoopLogger) Error(msg string, err error, fields ...map[string]interface{}) {}
func (n NoopLogger) WithFields(fields map[string]interface{}) interfaces.Logger  { return n }

// Fatal logs the error and exits. Only used by the command entry point.
func Fatal(l interfaces.Logger, msg string, err error) {
	l.Error(msg, err)
	os.Exit(1)
}
