package rpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

const requestIDHeader = "x-request-id"

// Recovery turns a panic in any unary handler into codes.Internal.
func Recovery(logger loggerpkg.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in grpc handler",
					loggerpkg.F("method", info.FullMethod),
					loggerpkg.F("error", fmt.Sprint(r)),
					loggerpkg.F("stack", string(debug.Stack())))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// AccessLog tags each call with a request id and logs it at debug level.
func AccessLog(logger loggerpkg.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		requestID := incomingRequestID(ctx)
		if requestID == "" {
			requestID = xid.New().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))

		resp, err := handler(ctx, req)

		logger.Debug("grpc request",
			loggerpkg.F("method", info.FullMethod),
			loggerpkg.F("request_id", requestID),
			loggerpkg.F("code", status.Code(err).String()),
			loggerpkg.F("duration", time.Since(start).String()))
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(requestIDHeader); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
