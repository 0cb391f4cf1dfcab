// Package requestctx carries per-request values (logger, trace ids and the device) between
// middleware, handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	deviceKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace context of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores logger on ctx. A nil logger stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey{}, logger)
}

// Logger returns the request logger or the no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := orBackground(ctx).Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger returns the logger Logger falls back to, so callers can detect that none was set.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores info on ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey{}, info)
}

// Trace returns the trace info stored by WithTrace.
func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := orBackground(ctx).Value(traceKey{}).(TraceInfo)
	return info, ok
}

// WithDeviceID records the device the request belongs to.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(orBackground(ctx), deviceKey{}, deviceID)
}

// DeviceID returns the device recorded by WithDeviceID. Empty ids report false.
func DeviceID(ctx context.Context) (string, bool) {
	id, ok := orBackground(ctx).Value(deviceKey{}).(string)
	return id, ok && id != ""
}
