package worker

import (
	"context"
	"errors"
	"fmt"
	"net"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nci/pixels/utils"
)

// Server exposes a local fetcher, typically backed by a raster library,
// to remote clients.
type Server struct {
	fetcher utils.Fetcher
	log     *zap.Logger
}

func NewServer(fetcher utils.Fetcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{fetcher: fetcher, log: log.Named("worker")}
}

func (s *Server) FetchBand(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
	if req == nil || len(req.Source) == 0 {
		return nil, status.Error(codes.InvalidArgument, "request has no source")
	}
	win, err := s.fetcher.FetchBand(ctx, req)
	if err != nil {
		s.log.Debug("window read failed", zap.String("source", req.Source), zap.Error(err))
		return nil, toStatus(err)
	}
	if win == nil {
		return nil, status.Error(codes.Internal, "fetcher returned no window")
	}
	return win, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, utils.ErrNoData):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, utils.ErrCRSMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, utils.ErrFetchIO):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.InvalidArgument, err.Error())
}

// NewGRPCServer builds a gRPC server serving fetcher.
func NewGRPCServer(fetcher utils.Fetcher, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterRasterWindowServer(s, NewServer(fetcher, log))
	return s
}

// Listen opens a SO_REUSEPORT listener on addr accepting at most maxConns
// simultaneous connections, so that several worker processes can share a
// port.
func Listen(addr string, maxConns int) (net.Listener, error) {
	lis, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", addr, err)
	}
	if maxConns <= 0 {
		maxConns = utils.DefaultMaxConnections
	}
	return netutil.LimitListener(lis, maxConns), nil
}
