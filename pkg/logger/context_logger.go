package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type sessionCtxKey string

const (
	ctxStreamID sessionCtxKey = "stream_id"
	ctxPeerID   sessionCtxKey = "peer_id"
)

// WithStreamID annotates a context so session-scoped log lines carry the
// stream id.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, ctxStreamID, streamID)
}

// WithPeerID annotates a context with the local peer identity.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxPeerID, peerID)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext adds session fields from the context to the logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if streamID, ok := ctx.Value(ctxStreamID).(string); ok {
		fields = append(fields, zap.String("stream_id", streamID))
	}
	if peerID, ok := ctx.Value(ctxPeerID).(string); ok {
		fields = append(fields, zap.String("peer_id", peerID))
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds error to logger
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}
