// Package wlog provides the injected-logger abstraction wrknv builds on:
// every component accepts a logr.Logger and defaults to logr.Discard() when
// the caller doesn't supply one. No package under pkg/ holds a module-level
// logger singleton.
package wlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Default returns the null logger used whenever a caller passes a zero-value
// logr.Logger into a constructor.
func Default() logr.Logger {
	return logr.Discard()
}

// OrDiscard returns l if it is non-zero, otherwise the discard logger. Every
// constructor in pkg/ that accepts a logr.Logger should route it through
// this helper so "new caller forgot to set a logger" degrades to silence
// rather than a nil-pointer panic.
func OrDiscard(l logr.Logger) logr.Logger {
	if l.GetSink() == nil {
		return Default()
	}
	return l
}

// textSink renders log lines to an io.Writer in wrknv's emoji console style:
// a timestamp, an "ℹ️" (Info) or "❌" (Error) prefix, the message, the logger
// name and key=value pairs.
// It exists so a CLI consumer gets that texture even though the core
// packages never call fmt.Printf directly.
type textSink struct {
	mu     *sync.Mutex
	w      io.Writer
	name   string
	values []any
}

// NewTextSink builds a logr.LogSink that writes timestamped lines to w.
func NewTextSink(w io.Writer) logr.LogSink {
	return &textSink{mu: &sync.Mutex{}, w: w}
}

func (s *textSink) Init(logr.RuntimeInfo) {}

func (s *textSink) Enabled(level int) bool { return true }

func (s *textSink) Info(level int, msg string, kv ...any) {
	s.write("ℹ️ ", msg, kv)
}

func (s *textSink) Error(err error, msg string, kv ...any) {
	s.write("❌", msg+": "+err.Error(), kv)
}

func (s *textSink) write(prefix, msg string, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any{}, s.values...), kv...)
	ts := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s %s", ts, prefix, msg)
	if s.name != "" {
		line += " logger=" + s.name
	}
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(s.w, line)
}

func (s *textSink) WithValues(kv ...any) logr.LogSink {
	return &textSink{mu: s.mu, w: s.w, name: s.name, values: append(append([]any{}, s.values...), kv...)}
}

func (s *textSink) WithName(name string) logr.LogSink {
	newName := name
	if s.name != "" {
		newName = s.name + "." + name
	}
	return &textSink{mu: s.mu, w: s.w, name: newName, values: s.values}
}

// NewStderr returns a ready-to-use logr.Logger writing to os.Stderr, for a
// CLI consumer's own injected logger (the core never constructs this
// itself).
func NewStderr() logr.Logger {
	return logr.New(NewTextSink(os.Stderr))
}
