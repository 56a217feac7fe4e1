package interceptors

import (
	"google.golang.org/grpc"

	"github.com/mindwell/convomem/pkg/logger"
)

// ChainBuilder helps build interceptor chains in the correct order
type ChainBuilder struct {
	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
}

// NewChainBuilder creates a new interceptor chain builder
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds recovery interceptor (should be first)
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RecoveryUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, RecoveryStreamInterceptor(log))
	return b
}

// WithRequestID adds request ID interceptor
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RequestIDUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, RequestIDStreamInterceptor())
	return b
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, LoggingUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, LoggingStreamInterceptor(log))
	return b
}

// WithTracing adds tracing interceptor
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, TracingUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, TracingStreamInterceptor())
	return b
}

// Build returns the configured interceptors as server options
func (b *ChainBuilder) Build() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, 2)

	if len(b.unaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unaryInterceptors...))
	}

	if len(b.streamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.streamInterceptors...))
	}

	return opts
}

// DefaultChain returns recovery -> request_id -> tracing -> logging. Tracing
// runs before logging so log lines carry the span.
func DefaultChain(log logger.Logger, tracing bool) *ChainBuilder {
	b := NewChainBuilder().
		WithRecovery(log).
		WithRequestID()
	if tracing {
		b = b.WithTracing()
	}
	return b.WithLogging(log)
}
