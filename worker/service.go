package worker

import (
	"context"

	"google.golang.org/grpc"

	"github.com/nci/pixels/utils"
)

const (
	serviceName     = "pixels.RasterWindow"
	fetchBandMethod = "/" + serviceName + "/FetchBand"
)

// RasterWindowServer is the server API of the window service.
type RasterWindowServer interface {
	FetchBand(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error)
}

func fetchBandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(utils.WindowRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RasterWindowServer).FetchBand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fetchBandMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RasterWindowServer).FetchBand(ctx, req.(*utils.WindowRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var rasterWindowServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RasterWindowServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchBand",
			Handler:    fetchBandHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "worker/service.go",
}

// RegisterRasterWindowServer attaches srv to s.
func RegisterRasterWindowServer(s *grpc.Server, srv RasterWindowServer) {
	s.RegisterService(&rasterWindowServiceDesc, srv)
}
