// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging to stdout. Entries carry
// the component name and a per-dispatch request ID; callers pass fields
// through redaction before logging, and the sink never adds identifying
// values of its own.
package logger

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{DEBUG: 0, INFO: 1, WARN: 2, ERROR: 3}

// Logger writes structured entries for one component at or above a
// configured threshold.
type Logger struct {
	Component string
	Container string
	threshold int
}

// LogEntry is the wire shape of one structured log line.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Component string         `json:"component"`
	Container string         `json:"container"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New creates a Logger for the specified component. The level string comes
// from configuration (LOG_LEVEL); unknown values default to INFO.
func New(component, level string) *Logger {
	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	threshold, ok := levelRank[LogLevel(strings.ToUpper(level))]
	if !ok {
		threshold = levelRank[INFO]
	}

	return &Logger{
		Component: component,
		Container: container,
		threshold: threshold,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, requestID, message string, fields map[string]any) {
	if levelRank[level] < l.threshold {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.Component,
		Container: l.Container,
		RequestID: requestID,
		Message:   message,
		Fields:    fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(requestID, message string, fields map[string]any) {
	l.Log(INFO, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(requestID, message string, fields map[string]any) {
	l.Log(ERROR, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(requestID, message string, fields map[string]any) {
	l.Log(WARN, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(requestID, message string, fields map[string]any) {
	l.Log(DEBUG, requestID, message, fields)
}
