// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Log is a structured logger attaching the time elapsed since its creation
// to every message. It is used by tools driving long running bulk operations.
type Log struct {
	start  time.Time
	logger *slog.Logger
}

// NewLog creates a new logger writing text records to stderr at info level.
func NewLog() *Log {
	return NewLogWithHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// NewLogWithHandler creates a logger on top of the given handler.
func NewLogWithHandler(handler slog.Handler) *Log {
	return &Log{start: time.Now(), logger: slog.New(handler)}
}

// NewLogFor creates a logger for the given level and format ("text" or "json").
func NewLogFor(out io.Writer, level, format string) (*Log, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return NewLogWithHandler(slog.NewTextHandler(out, opts)), nil
	case "json":
		return NewLogWithHandler(slog.NewJSONHandler(out, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLogLevel converts a level name (debug, info, warn, error) into a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Logger provides the underlying structured logger, e.g. for handing it to a sequence.
func (l *Log) Logger() *slog.Logger {
	return l.logger
}

// Print logs a message that includes the time elapsed since the start of the program.
func (l *Log) Print(msg string, args ...any) {
	l.logger.Info(msg, append([]any{"elapsed", l.elapsed()}, args...)...)
}

// Printf logs a formatted message that includes the time elapsed since the start of the program.
func (l *Log) Printf(format string, v ...any) {
	l.Print(fmt.Sprintf(format, v...))
}

func (l *Log) elapsed() string {
	t := uint64(time.Since(l.start).Seconds())
	return fmt.Sprintf("%d:%02d", t/60, t%60)
}

// ProgressLogger is a logger that tracks the progress of a task.
// It logs the progress at regular intervals configured when creating this logger.
type ProgressLogger struct {
	log            *Log
	start          time.Time
	task           string
	window         int
	counter, steps int
}

// NewProgressTracker creates a new ProgressLogger reporting every window steps.
func (l *Log) NewProgressTracker(task string, window int) *ProgressLogger {
	if window <= 0 {
		window = 1
	}
	return &ProgressLogger{log: l, start: time.Now(), task: task, window: window}
}

// Step increments the progress counter by the given number of steps.
// If the counter reaches the window size, the progress is logged.
func (p *ProgressLogger) Step(increment int) {
	p.counter += increment
	p.steps += increment

	if p.steps >= p.window {
		now := time.Now()
		count := p.counter / p.window * p.window // round down to the nearest window size
		p.log.Print(p.task, "processed", count, "rate", float64(p.steps)/now.Sub(p.start).Seconds())
		p.steps = 0
		p.start = now
	}
}

// GetCounter returns the current value of the progress counter.
func (p *ProgressLogger) GetCounter() int {
	return p.counter
}
