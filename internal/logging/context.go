package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := FromContext(ctx).WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// TradeContext returns l with the fields of an order placement.
func (l *Logger) TradeContext(symbol, side string, volume, price float64) *Logger {
	return l.WithFields(map[string]interface{}{
		"symbol": symbol,
		"side":   side,
		"volume": volume,
		"price":  price,
	})
}

// SignalContext returns l with the fields of a strategy analysis.
func (l *Logger) SignalContext(strategy, symbol, timeframe string) *Logger {
	return l.WithFields(map[string]interface{}{
		"strategy":  strategy,
		"symbol":    symbol,
		"timeframe": timeframe,
	})
}
