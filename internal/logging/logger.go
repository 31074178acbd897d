package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger fans every event out to the terminal, an optional JSONL file and any
// registered listeners. Debug events always reach the file sink, even when
// debug output is hidden from the terminal.
type Logger struct {
	debug    atomic.Bool
	terminal atomic.Bool
	pretty   bool

	mu        sync.RWMutex
	out       io.Writer
	sink      *fileSink
	nextID    int
	listeners map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	l := &Logger{
		pretty:    terminalSupportsColor(),
		out:       os.Stderr,
		listeners: map[int]func(Event){},
	}
	l.debug.Store(debug)
	l.terminal.Store(true)
	return l
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.debug.Store(enabled)
}

func (l *Logger) DebugEnabled() bool {
	return l != nil && l.debug.Load()
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.terminal.Store(enabled)
}

// SetOutput swaps the terminal writer and forces plain line output.
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil || w == nil {
		return
	}
	l.mu.Lock()
	l.out = w
	l.pretty = false
	l.mu.Unlock()
}

func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	dir, err := DefaultLogDirPath()
	if err != nil {
		return err
	}
	sink, err := openFileSink(dir, maxBytes)
	if err != nil {
		return err
	}
	l.mu.Lock()
	previous := l.sink
	l.sink = sink
	l.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	sink := l.sink
	l.sink = nil
	l.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.write(slog.LevelDebug, msg, fields, l.debug.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.write(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.write(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.write(slog.LevelError, msg, fields, true)
}

// Subscribe registers fn for every visible event and returns its remover.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Logger) write(level slog.Level, msg string, attrs []slog.Attr, visible bool) {
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}

	l.mu.RLock()
	sink := l.sink
	out := l.out
	pretty := l.pretty
	var listeners []func(Event)
	if visible && len(l.listeners) > 0 {
		listeners = make([]func(Event), 0, len(l.listeners))
		for _, fn := range l.listeners {
			listeners = append(listeners, fn)
		}
	}
	l.mu.RUnlock()

	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !visible {
		return
	}
	if l.terminal.Load() && out != nil {
		if pretty {
			_, _ = io.WriteString(out, FormatEventANSI(event))
		} else {
			_, _ = io.WriteString(out, FormatEventLine(event))
		}
	}
	for _, fn := range listeners {
		fn(event)
	}
}
