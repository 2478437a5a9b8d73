package grpc

import (
	"context"
	"errors"

	"github.com/mittimoney/mittimoney/internal/common"
	pb "github.com/mittimoney/mittimoney/internal/proto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStatus maps service errors to gRPC codes. Clients retry Unavailable and
// Internal and give up on the rest.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) caller(ctx context.Context) (owner, key string, err error) {
	owner, ok := UserIDFromContext(ctx)
	if !ok {
		return "", "", status.Error(codes.Unauthenticated, "unauthenticated")
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		key = firstValue(md, pb.IdempotencyKeyHeader)
	}
	return owner, key, nil
}

func requireField(req *structpb.Struct, name string) (string, error) {
	v := pb.String(req, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func (s *GRPCServer) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, key, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	collection, err := requireField(req, "collection")
	if err != nil {
		return nil, err
	}
	doc := pb.Document(req, "document")
	if doc == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}

	id, err := s.docs.Create(ctx, owner, collection, doc, key)
	if err != nil {
		s.logger.Error(ctx, "create failed", "collection", collection, "error", err)
		return nil, toStatus(err)
	}
	return pb.Message(map[string]any{"id": id})
}

func (s *GRPCServer) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, _, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	collection, err := requireField(req, "collection")
	if err != nil {
		return nil, err
	}
	id, err := requireField(req, "id")
	if err != nil {
		return nil, err
	}

	doc, err := s.docs.Get(ctx, owner, collection, id)
	if errors.Is(err, common.ErrorNotFound) {
		return pb.Message(map[string]any{"found": false})
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return pb.Message(map[string]any{"found": true, "document": doc})
}

func (s *GRPCServer) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, key, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	collection, err := requireField(req, "collection")
	if err != nil {
		return nil, err
	}
	id, err := requireField(req, "id")
	if err != nil {
		return nil, err
	}
	patch := pb.Document(req, "patch")
	if patch == nil {
		patch = map[string]any{}
	}

	if err := s.docs.Update(ctx, owner, collection, id, patch, key); err != nil {
		s.logger.Error(ctx, "update failed", "collection", collection, "id", id, "error", err)
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, key, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	collection, err := requireField(req, "collection")
	if err != nil {
		return nil, err
	}
	id, err := requireField(req, "id")
	if err != nil {
		return nil, err
	}

	if err := s.docs.Delete(ctx, owner, collection, id, key); err != nil {
		s.logger.Error(ctx, "delete failed", "collection", collection, "id", id, "error", err)
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner, _, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	collection, err := requireField(req, "collection")
	if err != nil {
		return nil, err
	}

	docs, err := s.docs.Query(ctx, owner, collection, pb.Document(req, "filters"))
	if err != nil {
		return nil, toStatus(err)
	}
	return pb.Message(map[string]any{"documents": docs})
}

// Ping reports Unavailable when the database cannot be reached, so clients
// treat the backend as offline.
func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.docs.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "ping failed", "error", err)
		return nil, status.Error(codes.Unavailable, "database unavailable")
	}
	return &emptypb.Empty{}, nil
}
