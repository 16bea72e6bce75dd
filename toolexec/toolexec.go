// Package toolexec implements the tool execution engine contract from
// spec §4.5: a uniform ExecResult envelope regardless of how a tool
// fails, a streaming output batcher with the newline/size/time flush
// policy, and display hints that let the collaboration surface render
// structured output without the engine knowing about rendering.
package toolexec

import (
	"context"
	"sync"
	"time"

	"kaijutsu/domain"
	"kaijutsu/kernelerr"

	"github.com/rs/zerolog/log"
)

// ExecResult is the uniform result of a tool call. A failing tool (bad
// arguments, non-zero exit, a caught panic) is not a Go error — it is a
// successful call to the engine that produced a failing ExecResult (spec
// §4.5, §7: tool failure is data, not a protocol-level error).
type ExecResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	Success     bool
	DisplayHint domain.DisplayHint
}

// Handler is the function a registered tool implements. A returned error
// means the engine itself could not run the tool (unknown tool, transport
// failure) — not that the tool's own logic failed.
type Handler func(ctx context.Context, input string) (ExecResult, error)

// Engine dispatches tool execution by name.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewEngine() *Engine {
	return &Engine{handlers: make(map[string]Handler)}
}

func (e *Engine) RegisterHandler(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Execute runs the named tool, converting any panic raised by a handler
// into a failing ExecResult rather than letting it cross the engine
// boundary (spec §4.5: tool misbehavior is contained).
func (e *Engine) Execute(ctx context.Context, name string, input string) (result ExecResult, err error) {
	e.mu.RLock()
	h, ok := e.handlers[name]
	e.mu.RUnlock()
	if !ok {
		return ExecResult{}, kernelerr.ToolNotFound("toolexec: no handler registered for %q", name)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", name).Interface("panic", r).Msg("toolexec: handler panicked")
			result = ExecResult{Stderr: "tool panicked", ExitCode: 1, Success: false}
			err = nil
		}
	}()

	return h(ctx, input)
}

// Flush policy constants (spec §4.5): streaming tool output is attributed
// to its block in chunks, flushed on whichever of these fires first.
const (
	FlushOnNewline      = true
	FlushMaxBytes       = 50
	FlushMaxInterval    = 100 * time.Millisecond
)

// Sink receives flushed chunks of streaming output, keyed by which stream
// (stdout/stderr) they came from.
type Sink func(stream string, chunk string)

// Batcher accumulates streaming tool output and flushes it to a Sink on
// newline boundaries, once it has buffered FlushMaxBytes, or after
// FlushMaxInterval of inactivity — whichever comes first (spec §4.5).
type Batcher struct {
	mu      sync.Mutex
	sink    Sink
	stream  string
	buf     []byte
	timer   *time.Timer
	stopped bool
}

func NewBatcher(stream string, sink Sink) *Batcher {
	return &Batcher{stream: stream, sink: sink}
}

// Write appends p to the buffer, flushing whenever a newline or the byte
// threshold is crossed, and (re)arming the inactivity timer for whatever
// remains buffered.
func (b *Batcher) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.buf = append(b.buf, c)
		if c == '\n' || len(b.buf) >= FlushMaxBytes {
			b.flushLocked()
		}
	}
	b.armTimerLocked()
	return len(p), nil
}

func (b *Batcher) armTimerLocked() {
	if len(b.buf) == 0 || b.stopped {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(FlushMaxInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.stopped {
			b.flushLocked()
		}
	})
}

func (b *Batcher) flushLocked() {
	if len(b.buf) == 0 {
		return
	}
	chunk := string(b.buf)
	b.buf = b.buf[:0]
	b.sink(b.stream, chunk)
}

// Close flushes any remaining partial chunk and stops the inactivity
// timer. Subsequent writes are accepted and still flush on a newline or
// the byte threshold, but a trailing partial chunk is no longer flushed
// by the timer; callers stream-attaching to a completed tool call should
// stop writing after Close.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.flushLocked()
}
