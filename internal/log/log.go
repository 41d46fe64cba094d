package log

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

func Green(format string, v ...interface{}) string {
	return fmt.Sprintf("\033[32m"+format+"\033[0m", v...)
}

func Yellow(format string, v ...interface{}) string {
	return fmt.Sprintf("\033[33m"+format+"\033[0m", v...)
}

func Red(format string, v ...interface{}) string {
	return fmt.Sprintf("\033[31m"+format+"\033[0m", v...)
}

func Cyan(format string, v ...interface{}) string {
	return fmt.Sprintf("\033[36m"+format+"\033[0m", v...)
}

func Gray(format string, v ...interface{}) string {
	return fmt.Sprintf("\033[90m"+format+"\033[0m", v...)
}

// GroupKey is the attribute that selects the bracketed component tag of a line.
const GroupKey = "_group"

// LogHandler prints one coloured line per record:
//
//	2006/01/02 15:04:05 [INFO/COORD] message (file:line) key=value
type LogHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	group string
	attrs []slog.Attr
}

func NewHandler(w io.Writer, level slog.Leveler) *LogHandler {
	return &LogHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var file string
	var line int
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		file = f.File
		line = f.Line
	}

	group := h.group
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == GroupKey {
			group = a.Value.String()
			return false
		}
		return true
	})

	msg := r.Time.Format("2006/01/02 15:04:05") + " " + levelTag(r.Level, group) + " " + r.Message
	if file != "" {
		msg += " " + Gray("(%s:%d)", file, line)
	}

	appendAttr := func(a slog.Attr) bool {
		if a.Key != GroupKey {
			msg += fmt.Sprintf(" %s=%s", Cyan(a.Key), Yellow("%v", a.Value))
		}
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	msg += "\n"
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write([]byte(msg))
	return err
}

func levelTag(level slog.Level, group string) string {
	name := level.String()
	if group != "" {
		name += "/" + group
	}
	switch {
	case level >= slog.LevelError:
		return Red("[%s]", name)
	case level >= slog.LevelWarn:
		return Yellow("[%s]", name)
	case level >= slog.LevelInfo:
		return Green("[%s]", name)
	default:
		return Cyan("[%s]", name)
	}
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	for _, a := range attrs {
		if a.Key == GroupKey {
			next.group = a.Value.String()
		}
	}
	return &next
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return h
}

var level = new(slog.LevelVar)

// SetupGlobalLogger installs LogHandler as the slog default and routes the
// standard library logger through it.
func SetupGlobalLogger(l slog.Level) {
	level.Set(l)
	handler := NewHandler(os.Stdout, level)
	slog.SetDefault(slog.New(handler))

	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(&writerAdapter{handler: handler, level: slog.LevelInfo})
}

// SetLevel changes the level of the global handler at runtime.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level reports the level of the global handler.
func Level() slog.Level {
	return level.Level()
}

// Group returns a logger whose lines are tagged with the given component name.
func Group(name string) *slog.Logger {
	return slog.Default().With(slog.String(GroupKey, name))
}

type writerAdapter struct {
	handler slog.Handler
	level   slog.Level
}

func (w *writerAdapter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	var pcs [1]uintptr
	runtime.Callers(4, pcs[:]) // skip [Callers, Write, log.Output, log.Printf/etc]

	r := slog.NewRecord(time.Now(), w.level, msg, pcs[0])
	return len(p), w.handler.Handle(context.Background(), r)
}

// GetWriter returns an io.Writer that logs each write as one Info record.
func GetWriter() io.Writer {
	return &writerAdapter{handler: slog.Default().Handler(), level: slog.LevelInfo}
}
