package server

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestUnaryRecoveryInterceptor(t *testing.T) {
	buf := captureLog(t)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Boom"}

	resp, err := UnaryRecoveryInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("kaboom")
	})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, buf.String(), "kaboom")
}

func TestUnaryLoggingInterceptor(t *testing.T) {
	buf := captureLog(t)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Fail"}

	_, err := UnaryLoggingInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"method":"/test.Svc/Fail"`)
	assert.Contains(t, buf.String(), `"code":"NotFound"`)

	buf.Reset()
	_, err = UnaryLoggingInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, errors.New("plain")
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"level":"error"`)
}
