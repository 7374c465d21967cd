package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimestampLayout = "2006-01-02 15:04:05"

// infoFieldLimit caps how many attributes an INFO line prints inline; the
// rest are summarized as a count. DEBUG lines print everything.
const infoFieldLimit = 6

type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	kvs = dedupeKVs(kvs)

	var s subject
	fields := make([]kv, 0, len(kvs))
	for _, field := range kvs {
		if s.absorb(field) {
			continue
		}
		fields = append(fields, field)
	}

	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.Grow(128 + len(fields)*24)
	buf.WriteString(timestamp.In(time.Local).Format(consoleTimestampLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if s.component != "" {
		buf.WriteString(" [")
		buf.WriteString(s.component)
		buf.WriteByte(']')
	}
	if subj := s.String(); subj != "" {
		buf.WriteByte(' ')
		buf.WriteString(subj)
	}
	buf.WriteString(" - ")
	buf.WriteString(message)
	if h.addSource {
		if src := record.Source(); src != nil {
			buf.WriteString(" [")
			buf.WriteString(filepath.Base(src.File))
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(src.Line))
			buf.WriteByte(']')
		}
	}

	if record.Level < slog.LevelInfo {
		for _, field := range fields {
			buf.WriteString("\n    ")
			buf.WriteString(field.key)
			buf.WriteString(": ")
			buf.WriteString(formatValue(field.value))
		}
	} else {
		shown := fields
		if len(shown) > infoFieldLimit {
			shown = shown[:infoFieldLimit]
		}
		for _, field := range shown {
			buf.WriteByte(' ')
			buf.WriteString(field.key)
			buf.WriteByte('=')
			buf.WriteString(formatValue(field.value))
		}
		if hidden := len(fields) - len(shown); hidden > 0 {
			buf.WriteString(" (+")
			buf.WriteString(strconv.Itoa(hidden))
			buf.WriteString(" more)")
		}
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	return &prettyHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
	}
}

// subject collects the identity fields rendered in the line header instead of
// as trailing key=value pairs.
type subject struct {
	component   string
	draftID     string
	interviewID string
	stage       string
}

func (s *subject) absorb(field kv) bool {
	switch field.key {
	case FieldComponent:
		s.component = attrString(field.value)
	case FieldDraftID:
		s.draftID = attrString(field.value)
	case FieldInterviewID:
		s.interviewID = attrString(field.value)
	case FieldStage:
		s.stage = attrString(field.value)
	default:
		return false
	}
	return true
}

func (s subject) String() string {
	var label string
	switch {
	case s.draftID != "":
		label = "Draft " + s.draftID
	case s.interviewID != "":
		label = "Interview " + s.interviewID
	}
	switch {
	case label != "" && s.stage != "":
		return label + " (" + s.stage + ")"
	case label != "":
		return label
	default:
		return s.stage
	}
}

type kv struct {
	key   string
	value slog.Value
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	if key == "" {
		return
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

// dedupeKVs keeps the last value for each key, preserving first-seen order,
// so call-site attributes override logger-scoped ones.
func dedupeKVs(kvs []kv) []kv {
	index := make(map[string]int, len(kvs))
	out := kvs[:0]
	for _, field := range kvs {
		if i, ok := index[field.key]; ok {
			out[i] = field
			continue
		}
		index[field.key] = len(out)
		out = append(out, field)
	}
	return out
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
