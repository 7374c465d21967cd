package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// attrString renders v without quoting, for identifiers pulled into the console header.
func attrString(v slog.Value) string {
	return renderValue(v, false)
}

// formatValue renders v for a key=value console field, quoting when needed.
func formatValue(v slog.Value) string {
	return renderValue(v, true)
}

func renderValue(v slog.Value, quote bool) string {
	v = v.Resolve()
	var s string
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().In(time.Local).Format(consoleTimestampLayout)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool, slog.KindInt64, slog.KindUint64:
		return v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if !quote {
		return s
	}
	if s == "" {
		return `""`
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
