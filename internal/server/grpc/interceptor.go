package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/mittimoney/mittimoney/internal/common"
	pb "github.com/mittimoney/mittimoney/internal/proto"
	"github.com/mittimoney/mittimoney/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

// UserIDFromContext returns the authenticated owner set by the interceptor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// accessTokenInterceptor requires a bearer token on every method except Ping.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == pb.MethodPing {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	header := firstValue(md, common.AuthorizationHeaderName)
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := auth.GetUserIDFromToken(token, s.jwtSecret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	return handler(context.WithValue(ctx, UserIDKey, userID), req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "call failed", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start))
		return resp, err
	}
	s.logger.Debug(ctx, "call", "method", info.FullMethod, "duration", time.Since(start))
	return resp, nil
}
