package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/icodeforyou/pvforecast/database"
)

type LogAttrFormat string

const (
	LogAttrFormatText LogAttrFormat = "TEXT"
	LogAttrFormatJSON LogAttrFormat = "JSON"
)

type LogStore interface {
	SaveLogEntry(ctx context.Context, r database.LogEntryRow) error
}

// DBHandler writes log records into the log table of the database.
type DBHandler struct {
	store    LogStore
	minLevel slog.Level
	format   LogAttrFormat
	attrs    []slog.Attr
}

func NewDBHandler(store LogStore, minLevel slog.Level, format LogAttrFormat) *DBHandler {
	return &DBHandler{store: store, minLevel: minLevel, format: format}
}

func (h *DBHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.minLevel {
		return nil
	}

	all := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, a)
		return true
	})

	attrsStr := ""
	if strings.EqualFold(string(h.format), "text") {
		var b strings.Builder
		for _, a := range all {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.Key)
			b.WriteString("=")
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(a.Value.String(), "=", "\\="), ";", "\\;"))
		}
		attrsStr = b.String()
	} else if len(all) > 0 {
		attrs := make([]map[string]string, 0, len(all))
		for _, a := range all {
			attrs = append(attrs, map[string]string{a.Key: a.Value.String()})
		}
		jsonBytes, err := json.Marshal(attrs)
		if err != nil {
			attrsStr = fmt.Sprintf(`{"error": "%v"}`, err)
		} else {
			attrsStr = string(jsonBytes)
		}
	}

	// The record may outlive a cancelled request context
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return h.store.SaveLogEntry(ctx, database.LogEntryRow{
		Timestamp: ts,
		Level:     int(r.Level),
		Message:   r.Message,
		Attrs:     attrsStr,
	})
}

func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(slices.Clone(h.attrs), attrs...)
	return &h2
}

func (h *DBHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *DBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}
