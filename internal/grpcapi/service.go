// Package grpcapi exposes lease acquire and release over gRPC. Messages are
// the JSON forms of pkg/types, negotiated through the "json" content-subtype.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"leased/pkg/types"
)

const (
	serviceName   = "leased.v1.LeaseService"
	acquireMethod = "/" + serviceName + "/AcquireLease"
	releaseMethod = "/" + serviceName + "/ReleaseLease"
)

// LeaseServer is the server API for the lease service.
type LeaseServer interface {
	AcquireLease(ctx context.Context, req *types.AcquireRequest) (*types.AcquireReply, error)
	ReleaseLease(ctx context.Context, req *types.ReleaseRequest) (*types.ReleaseReply, error)
}

// RegisterLeaseServer registers srv on s.
func RegisterLeaseServer(s grpc.ServiceRegistrar, srv LeaseServer) {
	s.RegisterService(&leaseServiceDesc, srv)
}

var leaseServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LeaseServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AcquireLease", Handler: acquireHandler},
		{MethodName: "ReleaseLease", Handler: releaseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leased/v1/lease.json",
}

func acquireHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.AcquireRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeaseServer).AcquireLease(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: acquireMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LeaseServer).AcquireLease(ctx, req.(*types.AcquireRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.ReleaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeaseServer).ReleaseLease(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: releaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LeaseServer).ReleaseLease(ctx, req.(*types.ReleaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}
