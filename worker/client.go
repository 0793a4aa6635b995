package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/nci/pixels/utils"
)

// Client reads windows from a pool of worker nodes. Requests are spread
// round robin over the nodes, starting from a random one.
type Client struct {
	conns []*grpc.ClientConn
	addrs []string
	next  uint64
	log   *zap.Logger
}

// NewClient connects to every address in addrs. Extra dial options are
// appended to the defaults.
func NewClient(addrs []string, maxRecvMsgSize int, log *zap.Logger, extra ...grpc.DialOption) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no worker nodes configured")
	}
	if maxRecvMsgSize <= 0 {
		maxRecvMsgSize = utils.DefaultRecvMsgSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize), grpc.CallContentSubtype(CodecName)),
	}
	opts = append(opts, extra...)

	c := &Client{log: log.Named("worker"), next: uint64(rand.Intn(len(addrs)))}
	for _, addr := range addrs {
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("gRPC connection problem with %s: %v", addr, err)
		}
		c.conns = append(c.conns, conn)
		c.addrs = append(c.addrs, addr)
	}
	return c, nil
}

func (c *Client) FetchBand(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
	idx := int(atomic.AddUint64(&c.next, 1) % uint64(len(c.conns)))
	out := new(utils.Window)
	err := c.conns[idx].Invoke(ctx, fetchBandMethod, req, out)
	if err != nil {
		c.log.Debug("window read failed", zap.String("node", c.addrs[idx]), zap.String("source", req.Source), zap.Error(err))
		return nil, fromStatus(ctx, req.Source, err)
	}
	return out, nil
}

func (c *Client) Close() error {
	var first error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fromStatus turns a gRPC status back into the error kinds of the fetcher
// contract.
func fromStatus(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return &utils.FetchError{Kind: utils.ErrFetchIO, Source: source, Err: err}
	}
	switch st.Code() {
	case codes.NotFound:
		return &utils.FetchError{Kind: utils.ErrNoData, Source: source, Err: fmt.Errorf("%s", st.Message())}
	case codes.FailedPrecondition:
		return &utils.FetchError{Kind: utils.ErrCRSMismatch, Source: source, Err: fmt.Errorf("%s", st.Message())}
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %s", source, st.Message())
	}
	return &utils.FetchError{Kind: utils.ErrFetchIO, Source: source, Err: fmt.Errorf("%s", st.Message())}
}
