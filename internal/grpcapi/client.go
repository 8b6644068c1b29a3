package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"leased/internal/leaseclient"
	"leased/pkg/types"
)

var _ leaseclient.Transport = (*Client)(nil)

// Client calls the lease service over a gRPC connection.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient opens a plaintext connection to target. Extra options are appended,
// which lets tests supply a context dialer.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Acquire(ctx context.Context, req types.AcquireRequest) (types.AcquireReply, error) {
	var out types.AcquireReply
	if err := c.conn.Invoke(ctx, acquireMethod, &req, &out); err != nil {
		return types.AcquireReply{}, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Release(ctx context.Context, req types.ReleaseRequest) (types.ReleaseReply, error) {
	var out types.ReleaseReply
	if err := c.conn.Invoke(ctx, releaseMethod, &req, &out); err != nil {
		return types.ReleaseReply{}, fromStatus(err)
	}
	return out, nil
}

func (c *Client) Close() error { return c.conn.Close() }
