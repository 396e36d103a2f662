// Package flog is the ingestion core's logger: a single buffered channel
// drained by one writer goroutine, so hot-path emitters (worker loops,
// socket readiness callbacks) never block on I/O.
package flog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Level int

const None Level = -1
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

// logChannelCapacity bounds how far the single writer goroutine can lag
// behind producers. Every source's receive loop, every scheduler worker,
// and the block-pool pressure path can all log concurrently, so this sits
// well above any one producer's burst rather than a bare CLI-tool default.
const logChannelCapacity = 1024

var (
	minLevel   = Info
	logCh      = make(chan string, logChannelCapacity)
	writerOnce sync.Once
)

// SetLevel sets the minimum level that reaches the log; None (-1) disables
// logging entirely. The writer goroutine is started at most once no
// matter how many times SetLevel is called, since a process-wide logger
// shared by every source and worker may legitimately have its level
// changed more than once (config reload, test setup).
func SetLevel(l int) {
	minLevel = Level(l)
	if minLevel == None {
		return
	}
	writerOnce.Do(func() {
		go func() {
			for msg := range logCh {
				fmt.Fprint(os.Stdout, msg)
			}
		}()
	})
}

// WErr filters benign, expected errors (closed sockets, context
// cancellation, EOF) out of the log path; it returns nil for those so
// callers can skip emitting a line for a condition that is not a fault.
func WErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// formatLine renders one log line; logf and Fatalf share it so the two
// code paths can't drift in timestamp or level formatting.
func formatLine(level Level, format string, args ...any) string {
	now := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("%s [%s] %s\n", now, level.String(), fmt.Sprintf(format, args...))
}

// argsAreBenign reports whether any error argument is one WErr would
// suppress, i.e. this call should be dropped rather than logged.
func argsAreBenign(args []any) bool {
	for _, arg := range args {
		if err, ok := arg.(error); ok && WErr(err) == nil {
			return true
		}
	}
	return false
}

func logf(level Level, format string, args ...any) {
	if level < minLevel || minLevel == None || argsAreBenign(args) {
		return
	}

	select {
	case logCh <- formatLine(level, format, args...):
	default:
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case None:
		return "None"
	default:
		return "UNKNOWN"
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }

// Fatalf logs at Fatal and exits. Unlike logf it writes to logCh with a
// blocking send: a fatal condition must reach stdout even if the channel
// is momentarily full, so this is the one call in the package allowed to
// stall its caller briefly rather than drop the line.
func Fatalf(format string, args ...any) {
	if minLevel != None && Fatal >= minLevel {
		if argsAreBenign(args) {
			os.Exit(1)
		}
		logCh <- formatLine(Fatal, format, args...)
		time.Sleep(50 * time.Millisecond)
	}
	os.Exit(1)
}

func Close() { close(logCh) }

// throttle state: one limiter per key, so a sustained fault condition
// (pool exhaustion, repeated steal misses) cannot flood stdout.
var (
	throttleMu  sync.Mutex
	throttleMap = map[string]*rate.Limiter{}
)

func throttler(key string) *rate.Limiter {
	throttleMu.Lock()
	defer throttleMu.Unlock()
	lim, ok := throttleMap[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 1)
		throttleMap[key] = lim
	}
	return lim
}

// WarnThrottled logs at Warn level at most once per second per key,
// regardless of call frequency.
func WarnThrottled(key, format string, args ...any) {
	if !throttler(key).Allow() {
		return
	}
	logf(Warn, format, args...)
}
