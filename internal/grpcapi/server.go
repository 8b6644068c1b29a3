package grpcapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"leased/internal/admission"
	"leased/pkg/types"
)

// Service is the admission surface served over gRPC.
type Service interface {
	Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error)
	Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error)
}

// Config holds the gRPC server configuration.
type Config struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	MaxRecvMsgSize   int
	Logger           *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = 30 * time.Second
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
	if c.MaxRecvMsgSize <= 0 {
		c.MaxRecvMsgSize = 1 << 20
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// Server adapts a Service to LeaseServer and owns the grpc.Server.
type Server struct {
	svc  Service
	log  zerolog.Logger
	grpc *grpc.Server
}

// NewServer builds a server with the lease service registered.
func NewServer(svc Service, cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{svc: svc, log: *cfg.Logger}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor()),
	)
	RegisterLeaseServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server starting")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls, falling back to a hard stop when ctx ends.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("grpc server stopped gracefully")
	case <-ctx.Done():
		s.log.Warn().Msg("grpc graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

func (s *Server) AcquireLease(ctx context.Context, req *types.AcquireRequest) (*types.AcquireReply, error) {
	reply, err := s.svc.Acquire(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &reply, nil
}

func (s *Server) ReleaseLease(ctx context.Context, req *types.ReleaseRequest) (*types.ReleaseReply, error) {
	reply, err := s.svc.Release(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &reply, nil
}

func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		ev := s.log.Debug()
		if code != codes.OK {
			ev = s.log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Str("code", code.String()).Dur("dur", time.Since(start)).Msg("grpc request")
		return resp, err
	}
}

// toStatus maps admission errors onto gRPC codes. Capacity denial is not an
// error and never reaches here.
func toStatus(err error) error {
	switch {
	case admission.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus reverses toStatus on the client side.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return admission.ErrValidation(strings.TrimPrefix(st.Message(), "invalid request: "))
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}
