// Package grpcgw is the Remote Gateway backed by the MittiMoney DocStore gRPC
// service.
package grpcgw

import (
	"context"
	"fmt"
	"time"

	"github.com/mittimoney/mittimoney/internal/client/remote"
	"github.com/mittimoney/mittimoney/internal/common"
	pb "github.com/mittimoney/mittimoney/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Gateway struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      *pb.DocStoreClient
	accessToken string
	poll        time.Duration
	dialOpts    []grpc.DialOption
}

type Option func(*Gateway)

// WithDialOptions appends options used when connecting, e.g. a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(g *Gateway) { g.dialOpts = append(g.dialOpts, opts...) }
}

// WithPollInterval sets how often Subscribe re-queries the server.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) { g.poll = d }
}

func New(endpointURL, accessToken string, opts ...Option) (*Gateway, error) {
	g := &Gateway{endpointURL: endpointURL, accessToken: accessToken, poll: 5 * time.Second}
	for _, o := range opts {
		o(g)
	}

	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(g.accessTokenInterceptor),
	}, g.dialOpts...)

	conn, err := grpc.NewClient(endpointURL, dial...)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	g.client = pb.NewDocStoreClient(conn)
	return g, nil
}

var _ remote.Gateway = (*Gateway)(nil)

func (g *Gateway) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if g.accessToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, "Bearer "+g.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// Apply sends the entry's idempotency key with every call it makes, so the
// server drops replays it has already applied.
func (g *Gateway) Apply(ctx context.Context, m remote.Mutation) error {
	if m.IdempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, pb.IdempotencyKeyHeader, m.IdempotencyKey)
	}
	return remote.ApplyMutation(ctx, g, m)
}

func message(fields map[string]any) (*structpb.Struct, error) {
	msg, err := pb.Message(fields)
	if err != nil {
		return nil, remote.Terminal(fmt.Errorf("encode request: %w", err))
	}
	return msg, nil
}

func (g *Gateway) Create(ctx context.Context, collection string, doc remote.Document) (string, error) {
	req, err := message(map[string]any{"collection": collection, "document": map[string]any(doc)})
	if err != nil {
		return "", err
	}
	resp, err := g.client.Create(ctx, req)
	if err != nil {
		return "", mapError(err)
	}
	return pb.String(resp, "id"), nil
}

func (g *Gateway) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	req, err := message(map[string]any{"collection": collection, "id": id})
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Get(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	if !pb.Bool(resp, "found") {
		return nil, nil
	}
	return pb.Document(resp, "document"), nil
}

func (g *Gateway) Update(ctx context.Context, collection, id string, patch remote.Document) error {
	req, err := message(map[string]any{"collection": collection, "id": id, "patch": map[string]any(patch)})
	if err != nil {
		return err
	}
	_, err = g.client.Update(ctx, req)
	return mapError(err)
}

func (g *Gateway) Delete(ctx context.Context, collection, id string) error {
	req, err := message(map[string]any{"collection": collection, "id": id})
	if err != nil {
		return err
	}
	_, err = g.client.Delete(ctx, req)
	return mapError(err)
}

func (g *Gateway) Query(ctx context.Context, collection string, filters ...remote.Filter) ([]remote.Document, error) {
	where := make(map[string]any, len(filters))
	for _, f := range filters {
		where[f.Field] = f.Value
	}
	req, err := message(map[string]any{"collection": collection, "filters": where})
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Query(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return pb.Documents(resp, "documents"), nil
}

func (g *Gateway) Subscribe(ctx context.Context, collection string, filters []remote.Filter, fn func([]remote.Document)) (func(), error) {
	return remote.PollSubscribe(ctx, g, collection, filters, g.poll, fn), nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	return mapError(g.client.Ping(ctx))
}

func (g *Gateway) Close() error {
	return g.conn.Close()
}

// mapError classifies gRPC status codes. A rejected token means the backend
// is not usable as configured, which is neither a retry nor a dead letter.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", remote.ErrNotConfigured, err)
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.AlreadyExists, codes.OutOfRange, codes.Unimplemented:
		return remote.Terminal(err)
	default:
		return remote.Retryable(err)
	}
}
