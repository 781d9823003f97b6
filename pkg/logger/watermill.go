package logger

import (
	"context"
	"sort"

	"github.com/ThreeDotsLabs/watermill"
)

// watermillAdapter routes message router logs through a Logger.
type watermillAdapter struct {
	l Logger
}

// Watermill adapts l to watermill.LoggerAdapter. Trace is logged at debug level.
func Watermill(l Logger) watermill.LoggerAdapter {
	return &watermillAdapter{l: l}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(context.Background(), msg, append(toFields(fields), Error(err))...)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(context.Background(), msg, toFields(fields)...)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(context.Background(), msg, toFields(fields)...)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(context.Background(), msg, toFields(fields)...)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{l: a.l.With(toFields(fields)...)}
}

// toFields sorts keys so output is stable.
func toFields(fields watermill.LogFields) []Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, Any(k, fields[k]))
	}
	return out
}
