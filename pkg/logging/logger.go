// Copyright (c) 2023 The IOListener Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package logging is the logging layer shared by listeners, descriptors and their
// collaborators. The default logger is a sugared go.uber.org/zap logger writing to
// stderr, stdout is left alone because a console driver may own it.
//
// IOLISTENER_LOGGING_LEVEL selects the level, either by name ("debug", "warn")
// or by number from -1 (debug) to 5 (fatal). IOLISTENER_LOGGING_FILE redirects
// the default logger to a rotating local file.
package logging

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Environment variables read at start-up.
const (
	EnvLevel = "IOLISTENER_LOGGING_LEVEL"
	EnvFile  = "IOLISTENER_LOGGING_FILE"
)

const prefix = "[iolistener]"

// Level is the alias of zapcore.Level.
type Level = zapcore.Level

// Levels understood by Logger.
const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// Logger is used for logging formatted messages.
type Logger interface {
	// Debugf logs messages at DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs messages at INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs messages at WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs messages at ERROR level.
	Errorf(format string, args ...interface{})
	// Fatalf logs messages at FATAL level.
	Fatalf(format string, args ...interface{})
}

// Flusher writes out any buffered entries, call it before the process exits.
type Flusher = func() error

var (
	mu             sync.RWMutex
	defaultLogger  Logger
	defaultFlusher Flusher
	defaultLevel   Level
)

func init() {
	if s := os.Getenv(EnvLevel); s != "" {
		lvl, err := ParseLevel(s)
		if err != nil {
			panic("invalid " + EnvLevel + ", " + err.Error())
		}
		defaultLevel = lvl
	}

	if path := os.Getenv(EnvFile); path != "" {
		var err error
		if defaultLogger, defaultFlusher, err = CreateLoggerAsLocalFile(path, defaultLevel); err != nil {
			panic("invalid " + EnvFile + ", " + err.Error())
		}
		return
	}
	defaultLogger, defaultFlusher = newLogger(
		newPrefixEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		defaultLevel,
		zap.Development(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(FatalLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)))
}

// ParseLevel accepts a level name or its numeric value.
func ParseLevel(s string) (Level, error) {
	if n, err := strconv.ParseInt(s, 10, 8); err == nil {
		lvl := Level(n)
		if lvl < DebugLevel || lvl > FatalLevel {
			return lvl, fmt.Errorf("level %d out of range", n)
		}
		return lvl, nil
	}
	var lvl Level
	err := lvl.UnmarshalText([]byte(s))
	return lvl, err
}

// RotateConfig describes a rotating log file.
type RotateConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewRotatingLogger logs entries at lvl and above into the file described by cfg.
func NewRotatingLogger(cfg RotateConfig, lvl Level) (Logger, Flusher, error) {
	if cfg.Filename == "" {
		return nil, nil, errors.New("invalid local logger path")
	}
	// lumberjack.Logger serializes its own writes.
	w := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	logger, flush := newLogger(newPrefixEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w), lvl, zap.AddStacktrace(ErrorLevel))
	return logger, flush, nil
}

// CreateLoggerAsLocalFile is NewRotatingLogger with 100MB files, two backups kept for 15 days.
func CreateLoggerAsLocalFile(localFilePath string, lvl Level) (Logger, Flusher, error) {
	return NewRotatingLogger(RotateConfig{
		Filename:   localFilePath,
		MaxSize:    100,
		MaxBackups: 2,
		MaxAge:     15,
	}, lvl)
}

func newLogger(enc zapcore.Encoder, ws zapcore.WriteSyncer, lvl Level, opts ...zap.Option) (Logger, Flusher) {
	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(lvl))
	z := zap.New(core, append([]zap.Option{zap.AddCaller()}, opts...)...)
	return z.Sugar(), z.Sync
}

// prefixEncoder tags every console line with the package prefix.
type prefixEncoder struct {
	zapcore.Encoder
	prefix string
}

var linePool = buffer.NewPool()

func newPrefixEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return prefixEncoder{Encoder: zapcore.NewConsoleEncoder(cfg), prefix: prefix}
}

func (e prefixEncoder) Clone() zapcore.Encoder {
	return prefixEncoder{Encoder: e.Encoder.Clone(), prefix: e.prefix}
}

func (e prefixEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line, err := e.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}
	defer line.Free()

	buf := linePool.Get()
	buf.AppendString(e.prefix)
	buf.AppendByte(' ')
	_, _ = buf.Write(line.Bytes())
	return buf, nil
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the default logger and its flusher, a nil flusher is allowed.
// Listeners pick the default up when they are created.
func SetDefault(logger Logger, flusher Flusher) {
	if logger == nil {
		return
	}
	mu.Lock()
	defaultLogger, defaultFlusher = logger, flusher
	mu.Unlock()
}

// DefaultLevel is the level the default logger was built with.
func DefaultLevel() Level {
	return defaultLevel
}

// Cleanup flushes the default logger.
func Cleanup() {
	mu.RLock()
	flush := defaultFlusher
	mu.RUnlock()
	if flush != nil {
		_ = flush()
	}
}

// Debugf logs messages at DEBUG level.
func Debugf(format string, args ...interface{}) {
	GetDefaultLogger().Debugf(format, args...)
}

// Infof logs messages at INFO level.
func Infof(format string, args ...interface{}) {
	GetDefaultLogger().Infof(format, args...)
}

// Warnf logs messages at WARN level.
func Warnf(format string, args ...interface{}) {
	GetDefaultLogger().Warnf(format, args...)
}

// Errorf logs messages at ERROR level.
func Errorf(format string, args ...interface{}) {
	GetDefaultLogger().Errorf(format, args...)
}

// Fatalf logs messages at FATAL level.
func Fatalf(format string, args ...interface{}) {
	GetDefaultLogger().Fatalf(format, args...)
}

// Nop is a Logger that discards everything.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
func (Nop) Fatalf(string, ...interface{}) {}
