// Package log implements a structured, leveled logger in the style the
// rest of the tree was written against (key/value pairs appended after the
// message, one Logger per component, a process-wide root logger for
// convenience calls).
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Lvl is a log level.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Record is one emitted log line.
type Record struct {
	Time time.Time
	Lvl  Lvl
	Msg  string
	Ctx  []interface{}
}

// Handler writes a Record somewhere.
type Handler interface {
	Log(r *Record) error
}

// Logger emits leveled, contextual log records. A Logger is immutable;
// New appends context and returns a child.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type logger struct {
	ctx []interface{}
	h   *swapHandler
}

type swapHandler struct {
	mu sync.Mutex
	h  Handler
}

func (s *swapHandler) Log(r *Record) error {
	s.mu.Lock()
	h := s.h
	s.mu.Unlock()
	return h.Log(r)
}

func (s *swapHandler) Swap(h Handler) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

var root = &logger{h: &swapHandler{h: StreamHandler(os.Stderr)}}

// New creates a new Logger with ctx appended to the root's context.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

// SetHandler replaces the root logger's output handler.
func SetHandler(h Handler) {
	root.h.Swap(h)
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{h: l.h}
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return child
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	r := &Record{Time: time.Now(), Lvl: lvl, Msg: msg, Ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
	_ = l.h.Log(r)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// Package-level convenience calls against the root logger.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }

// StreamHandler writes terminal-formatted records to w.
func StreamHandler(w io.Writer) Handler {
	return &streamHandler{w: w}
}

type streamHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *streamHandler) Log(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s [%s] %s", r.Time.Format("2006-01-02T15:04:05.000"), r.Lvl, r.Msg)
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		fmt.Fprintf(s.w, " %v=%v", r.Ctx[i], r.Ctx[i+1])
	}
	fmt.Fprintln(s.w)
	return nil
}

// DiscardHandler drops every record; useful in tests.
func DiscardHandler() Handler { return discardHandler{} }

type discardHandler struct{}

func (discardHandler) Log(*Record) error { return nil }
