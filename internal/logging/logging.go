// Package logging adapts hclog to the sfbulk.Logger interface.
package logging

import (
	"io"
	"os"
	"sort"

	"github.com/fivetwenty-io/sfbulk/pkg/sfbulk"
	"github.com/hashicorp/go-hclog"
)

// Options configures a Logger.
type Options struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

// Logger writes structured logs through hclog.
type Logger struct {
	logger hclog.Logger
}

var _ sfbulk.Logger = (*Logger)(nil)

// New creates a logger. An unknown level falls back to info.
func New(opts Options) *Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return &Logger{logger: hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		Output:     output,
		JSONFormat: opts.JSON,
	})}
}

// Wrap adapts an existing hclog logger.
func Wrap(logger hclog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Hclog returns the underlying logger.
func (l *Logger) Hclog() hclog.Logger {
	return l.logger
}

// Named returns a sub-logger.
func (l *Logger) Named(name string) *Logger {
	return &Logger{logger: l.logger.Named(name)}
}

func (l *Logger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, pairs(fields)...)
}

func (l *Logger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, pairs(fields)...)
}

func (l *Logger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn(msg, pairs(fields)...)
}

func (l *Logger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, pairs(fields)...)
}

// pairs flattens fields into hclog key/value arguments in key order.
func pairs(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}

	return args
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{logger: hclog.NewNullLogger()}
}
