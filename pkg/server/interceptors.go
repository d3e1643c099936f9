// Package server 放 worker 对外 gRPC 端点的公共拦截器。
package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

// UnaryLoggingInterceptor 负责拦截普通请求 (Health.Check)
func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	resp, err := handler(ctx, req)

	logRPC("Unary", info.FullMethod, time.Since(start), err)
	return resp, err
}

// StreamLoggingInterceptor 负责拦截流式请求 (Health.Watch, reflection)
func StreamLoggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()

	err := handler(srv, ss)

	logRPC("Stream", info.FullMethod, time.Since(start), err)
	return err
}

// logRPC 统一的日志打印逻辑
func logRPC(kind, method string, duration time.Duration, err error) {
	code := status.Code(err)

	level := zerolog.DebugLevel // 健康检查很频繁，成功的请求只在 debug 打印
	if code != codes.OK {
		// NotFound 这种业务错误算 Warn，Internal 算 Error
		if code == codes.Internal || code == codes.Unknown {
			level = zerolog.ErrorLevel
		} else {
			level = zerolog.WarnLevel
		}
	}

	log.WithLevel(level).
		Str("kind", kind).
		Str("method", method).
		Str("code", code.String()).
		Dur("dur", duration).
		Err(err).
		Msg("gRPC request")
}

// =============================================================================
// 2. Recovery Interceptor (防弹衣)
// =============================================================================

// UnaryRecoveryInterceptor 捕获 Panic
func UnaryRecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(r)
		}
	}()
	return handler(ctx, req)
}

// StreamRecoveryInterceptor 捕获 Panic
func StreamRecoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverFromPanic(r)
		}
	}()
	return handler(srv, ss)
}

func recoverFromPanic(p any) error {
	log.Error().
		Interface("panic", p).
		Str("stack", string(debug.Stack())).
		Msg("🔥 PANIC RECOVERED")
	// 返回一个友好的 gRPC Internal 错误给客户端，而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}

// NewGRPCServer 创建带拦截器的 gRPC Server
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(UnaryRecoveryInterceptor, UnaryLoggingInterceptor),
		grpc.ChainStreamInterceptor(StreamRecoveryInterceptor, StreamLoggingInterceptor),
	)
	return grpc.NewServer(opts...)
}
