package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures WrapAsync.
type AsyncConfig struct {
	Enabled      bool
	QueueSize    int
	WorkerCount  int
	DropWhenFull bool
}

type entryLevel int

const (
	entryDebug entryLevel = iota
	entryInfo
	entryWarn
	entryError
)

type asyncEntry struct {
	base  Logger
	level entryLevel
	msg   string
	args  []any
}

type dispatcher struct {
	entries      chan asyncEntry
	dropWhenFull bool
	dropped      atomic.Uint64
	wg           sync.WaitGroup
	stopOnce     sync.Once
	stopped      atomic.Bool
}

// AsyncLogger hands entries to worker goroutines so that slow sinks do not
// stall store operations. After Close, entries are written synchronously.
type AsyncLogger struct {
	base Logger
	d    *dispatcher
}

// WrapAsync wraps base with a queued dispatcher. It returns base unchanged
// when cfg is disabled.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	d := &dispatcher{
		entries:      make(chan asyncEntry, queueSize),
		dropWhenFull: cfg.DropWhenFull,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range d.entries {
				write(e.base, e.level, e.msg, e.args)
			}
		}()
	}

	return &AsyncLogger{base: base, d: d}
}

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(entryDebug, msg, args) }
func (l *AsyncLogger) Info(msg string, args ...any)  { l.enqueue(entryInfo, msg, args) }
func (l *AsyncLogger) Warn(msg string, args ...any)  { l.enqueue(entryWarn, msg, args) }
func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(entryError, msg, args) }

// With returns a child sharing the same queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), d: l.d}
}

// WithContext returns a child sharing the same queue. Trace fields are
// captured now, not when the entry is written.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), d: l.d}
}

// Dropped returns the number of entries discarded because the queue was full.
func (l *AsyncLogger) Dropped() uint64 {
	return l.d.dropped.Load()
}

// Close drains the queue, stops the workers and syncs the wrapped logger
// when it supports it. Close is idempotent.
func (l *AsyncLogger) Close() error {
	l.d.stopOnce.Do(func() {
		l.d.stopped.Store(true)
		close(l.d.entries)
		l.d.wg.Wait()
	})
	if s, ok := l.base.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (l *AsyncLogger) enqueue(level entryLevel, msg string, args []any) {
	if l.d.stopped.Load() {
		write(l.base, level, msg, args)
		return
	}

	e := asyncEntry{base: l.base, level: level, msg: msg, args: args}
	if l.d.dropWhenFull {
		select {
		case l.d.entries <- e:
		default:
			l.d.dropped.Add(1)
		}
		return
	}
	l.d.entries <- e
}

func write(base Logger, level entryLevel, msg string, args []any) {
	switch level {
	case entryDebug:
		base.Debug(msg, args...)
	case entryInfo:
		base.Info(msg, args...)
	case entryWarn:
		base.Warn(msg, args...)
	case entryError:
		base.Error(msg, args...)
	}
}
