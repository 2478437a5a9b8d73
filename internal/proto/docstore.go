// Package proto holds the DocStore gRPC contract. Messages are
// google.protobuf.Struct values so documents of any collection travel
// without per-entity schemas; the service descriptor is declared by hand.
//
// Request and response fields:
//
//	Create  {collection, document}        -> {id}
//	Get     {collection, id}              -> {found, document}
//	Update  {collection, id, patch}       -> {}
//	Delete  {collection, id}              -> {}
//	Query   {collection, filters}         -> {documents}
//	Ping    Empty                         -> Empty
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "mittimoney.docstore.v1.DocStore"

// Full method names, used by interceptors.
const (
	MethodCreate = "/" + ServiceName + "/Create"
	MethodGet    = "/" + ServiceName + "/Get"
	MethodUpdate = "/" + ServiceName + "/Update"
	MethodDelete = "/" + ServiceName + "/Delete"
	MethodQuery  = "/" + ServiceName + "/Query"
	MethodPing   = "/" + ServiceName + "/Ping"
)

// IdempotencyKeyHeader carries the queue entry key of a replayed mutation.
const IdempotencyKeyHeader = "idempotency-key"

type DocStoreServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func RegisterDocStoreServer(s grpc.ServiceRegistrar, srv DocStoreServer) {
	s.RegisterService(&DocStoreServiceDesc, srv)
}

func structHandler(method string, call func(DocStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocStoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DocStoreServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DocStoreServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DocStoreServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var DocStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: structHandler(MethodCreate, DocStoreServer.Create)},
		{MethodName: "Get", Handler: structHandler(MethodGet, DocStoreServer.Get)},
		{MethodName: "Update", Handler: structHandler(MethodUpdate, DocStoreServer.Update)},
		{MethodName: "Delete", Handler: structHandler(MethodDelete, DocStoreServer.Delete)},
		{MethodName: "Query", Handler: structHandler(MethodQuery, DocStoreServer.Query)},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mittimoney/docstore/v1/docstore.proto",
}

// DocStoreClient is the client stub.
type DocStoreClient struct {
	cc grpc.ClientConnInterface
}

func NewDocStoreClient(cc grpc.ClientConnInterface) *DocStoreClient {
	return &DocStoreClient{cc: cc}
}

func (c *DocStoreClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DocStoreClient) Create(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreate, in, opts...)
}

func (c *DocStoreClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGet, in, opts...)
}

func (c *DocStoreClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdate, in, opts...)
}

func (c *DocStoreClient) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDelete, in, opts...)
}

func (c *DocStoreClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodQuery, in, opts...)
}

func (c *DocStoreClient) Ping(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, MethodPing, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}
