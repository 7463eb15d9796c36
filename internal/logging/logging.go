// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package logging installs the package logger factory used across the index
// layer. Every package keeps a named logger obtained from
// github.com/lni/dragonboat/v4/logger; Init swaps the factory so that all of
// them write lines of the form
//
//	2025/01/02 15:04:05 INFO  | index           | created index "orders_pk"
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

// Packages lists the logger names used by this module.
var Packages = []string{"bwtree", "epoch", "hashindex", "index", "config", "cmd"}

// ErrInvalidLevel is returned for unknown level names.
var ErrInvalidLevel = errors.New("invalid log level")

// sink serializes writes from every logger onto one destination.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

var output = &sink{w: os.Stderr}

// SetOutput redirects all loggers created by this package.
func SetOutput(w io.Writer) {
	output.mu.Lock()
	output.w = w
	output.mu.Unlock()
}

// indexLogger implements logger.ILogger with the pipe separated format.
type indexLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *indexLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *indexLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *indexLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", format, args...)
	}
}

func (l *indexLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", format, args...)
	}
}

func (l *indexLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.log("WARN", format, args...)
	}
}

func (l *indexLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.log("ERROR", format, args...)
	}
}

func (l *indexLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log("PANIC", "%s", msg)
	panic(msg)
}

func (l *indexLogger) log(level string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", level, l.name, fmt.Sprintf(format, args...))
}

// CreateLogger is a logger.Factory. New loggers start at INFO.
func CreateLogger(pkgName string) logger.ILogger {
	l := &indexLogger{
		name:   pkgName,
		logger: log.New(output, "", log.Ldate|log.Ltime),
	}
	l.level.Store(int32(logger.INFO))
	return l
}

// ParseLevel converts a level name into a logger.LogLevel.
func ParseLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	}
	return 0, errors.Wrapf(ErrInvalidLevel, "%q must be one of debug, info, warn, error", level)
}

// Init installs the factory and sets every package logger to level.
func Init(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range Packages {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
