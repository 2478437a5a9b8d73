// Package grpc serves the DocStore API that MittiMoney clients replay their
// sync queues against.
package grpc

import (
	"context"
	"net"

	"github.com/mittimoney/mittimoney/internal/logging"
	pb "github.com/mittimoney/mittimoney/internal/proto"
	"google.golang.org/grpc"
)

// Documents is the document service the handlers delegate to. An empty key
// means the call is not deduplicated.
type Documents interface {
	Create(ctx context.Context, owner, collection string, doc map[string]any, key string) (string, error)
	Get(ctx context.Context, owner, collection, id string) (map[string]any, error)
	Update(ctx context.Context, owner, collection, id string, patch map[string]any, key string) error
	Delete(ctx context.Context, owner, collection, id, key string) error
	Query(ctx context.Context, owner, collection string, filters map[string]any) ([]map[string]any, error)
	Ping(ctx context.Context) error
}

type GRPCServer struct {
	address   string
	docs      Documents
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(address string, l logging.Logger, docs Documents, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   address,
		logger:    l.With("module", "grpc_server"),
		docs:      docs,
		jwtSecret: []byte(secretKey),
	}
}

var _ pb.DocStoreServer = (*GRPCServer)(nil)

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and stops gracefully once ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	pb.RegisterDocStoreServer(srv, s)

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping gRPC server...")
			srv.GracefulStop()
		case <-stopped:
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
