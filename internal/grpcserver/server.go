// Package grpcserver exposes nearest-neighbor lookup over gRPC. Messages are
// google.protobuf.Struct values so no generated code is needed.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"fkmap/internal/dataset"
	"fkmap/internal/fsutil"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fkmap.Lookup"

// Lookup is the service contract.
type Lookup interface {
	Nearest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Summary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Rows(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Lookup)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Nearest", Handler: nearestHandler},
		{MethodName: "Summary", Handler: summaryHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Rows", Handler: rowsHandler, ServerStreams: true},
	},
	Metadata: "fkmap/lookup",
}

// LookupServer answers queries against the served dataset.
type LookupServer struct {
	live *dataset.Live
	log  *slog.Logger
}

// NewLookupServer serves whatever live holds at call time.
func NewLookupServer(live *dataset.Live, log *slog.Logger) *LookupServer {
	if log == nil {
		log = slog.Default()
	}
	return &LookupServer{live: live, log: log}
}

// Register adds the service to gs.
func (s *LookupServer) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Start listens on addr and serves until ctx is done.
func (s *LookupServer) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *LookupServer) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	s.Register(gs)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String(), "service", ServiceName)
	return gs.Serve(lis)
}

// Nearest expects {"f": number, "k": number} and replies with the closest row.
func (s *LookupServer) Nearest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, okF := number(req, "f")
	k, okK := number(req, "k")
	if !okF || !okK {
		return nil, status.Error(codes.InvalidArgument, "f and k must be numbers")
	}
	ds := s.live.Load()
	i, ok := ds.NearestIndex(f, k)
	if !ok {
		return nil, status.Error(codes.NotFound, "dataset is empty")
	}
	return rowStruct(i, ds.Row(i))
}

// Summary replies with column statistics.
func (s *LookupServer) Summary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sum := s.live.Load().Summarize()
	return structpb.NewStruct(map[string]any{
		"count":          sum.Count,
		"dead":           sum.Dead,
		"f_min":          sum.F.Min,
		"f_max":          sum.F.Max,
		"k_min":          sum.K.Min,
		"k_max":          sum.K.Max,
		"variation_min":  sum.Variation.Min,
		"variation_max":  sum.Variation.Max,
		"mean_variation": sum.MeanVariation,
		"std_variation":  sum.StdVariation,
	})
}

// Rows streams every row. An optional "limit" caps the count.
func (s *LookupServer) Rows(req *structpb.Struct, stream grpc.ServerStream) error {
	ds := s.live.Load()
	n := ds.Len()
	if limit, ok := number(req, "limit"); ok && limit > 0 && int(limit) < n {
		n = int(limit)
	}
	for i := 0; i < n; i++ {
		if err := stream.Context().Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		msg, err := rowStruct(i, ds.Row(i))
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func rowStruct(i int, row dataset.Row) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"index":     i,
		"f":         row.F,
		"k":         row.K,
		"variation": row.Variation,
		"path":      fsutil.EscapePath(row.Path),
	})
}

func number(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func nearestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Lookup).Nearest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Nearest"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Lookup).Nearest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func summaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Lookup).Summary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Summary"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Lookup).Summary(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func rowsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Lookup).Rows(in, stream)
}
