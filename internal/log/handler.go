package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

// patternHandler is a slog.Handler that renders records as logrus entries
// through the pattern formatter.
type patternHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	format logrus.Formatter
	attrs  []slog.Attr
	group  string
}

func newPatternHandler(out io.Writer, level slog.Leveler, pattern string) *patternHandler {
	return &patternHandler{
		mu:     &sync.Mutex{},
		out:    out,
		level:  level,
		format: &formatter{pattern: pattern, time: defaultTimeLayout},
	}
}

func (h *patternHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *patternHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(logrus.Fields, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.group, a)
		return true
	})

	entry := &logrus.Entry{
		Data:    data,
		Time:    r.Time,
		Level:   toLogrusLevel(r.Level),
		Message: r.Message,
	}
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		entry.Caller = &frame
	}

	b, err := h.format.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.out.Write(b)
	return err
}

func (h *patternHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	n := *h
	n.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	n.attrs = append(n.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		n.attrs = append(n.attrs, a)
	}
	return &n
}

func (h *patternHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	n := *h
	if h.group != "" {
		n.group = h.group + "." + name
	} else {
		n.group = name
	}
	return &n
}

func addAttr(data logrus.Fields, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(data, key, ga)
		}
		return
	}
	data[key] = a.Value.Any()
}

func toLogrusLevel(l slog.Level) logrus.Level {
	switch {
	case l >= slog.LevelError:
		return logrus.ErrorLevel
	case l >= slog.LevelWarn:
		return logrus.WarnLevel
	case l >= slog.LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
