package app

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/config"
	"github.com/heartmarshall/fedrecords/pkg/ctxutil"
)

// NewLogger builds the process logger from cfg, writing to w, and installs
// it as the slog default. "text" format adds source locations; anything
// else logs JSON. Records logged with a request context carry its request
// id and actor.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	text := strings.EqualFold(cfg.Format, "text")
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: text,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if text {
		h = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(contextHandler{h})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// contextHandler copies request scoped identifiers from the context onto
// each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	has := make(map[string]bool, 2)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "request_id" || a.Key == "actor" {
			has[a.Key] = true
		}
		return true
	})
	if id := ctxutil.RequestIDFromCtx(ctx); id != "" && !has["request_id"] {
		r.AddAttrs(slog.String("request_id", id))
	}
	if actor, ok := ctxutil.ActorFromCtx(ctx); ok && !has["actor"] {
		r.AddAttrs(slog.String("actor", actor))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
