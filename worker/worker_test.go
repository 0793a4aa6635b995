package worker

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nci/pixels/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testGeometry = utils.NewPolygon("EPSG:3577", [2]float64{0, 0}, [2]float64{20, 0},
	[2]float64{20, 20}, [2]float64{0, 20}, [2]float64{0, 0})

// startWorker serves fetcher over an in-memory connection and returns a
// client talking to it.
func startWorker(t *testing.T, fetcher utils.Fetcher) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	// handlers may outlive the test when a call is cancelled
	s := NewGRPCServer(fetcher, zap.NewNop())
	go s.Serve(lis)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	c, err := NewClient([]string{"passthrough:///bufnet"}, 0, zaptest.NewLogger(t), grpc.WithContextDialer(dialer))
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		s.Stop()
	})
	return c
}

func TestWorkerRoundTrip(t *testing.T) {
	var got *utils.WindowRequest
	fetcher := utils.FetcherFunc(func(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
		got = req
		grid, err := req.Geometry.GridFor(req.Scale, "UInt16", 0)
		if err != nil {
			return nil, err
		}
		return &utils.Window{Creation: grid, Band: &utils.Band{Data: []float64{1, 2, 3, 4},
			Height: 2, Width: 2, DataType: "UInt16"}}, nil
	})
	c := startWorker(t, fetcher)

	req := &utils.WindowRequest{Source: "s2/B04.tif", Geometry: testGeometry, Scale: 10, Clip: true,
		BandIndices: []int{1}}
	win, err := c.FetchBand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Equal(t, 2, win.Creation.Width)
	assert.Equal(t, "EPSG:3577", win.Creation.CRS)
	assert.Equal(t, []float64{1, 2, 3, 4}, win.Band.Data)
}

func TestWorkerEmptyWindow(t *testing.T) {
	fetcher := utils.FetcherFunc(func(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
		return &utils.Window{Creation: utils.CreationArgs{Width: 2, Height: 2}}, nil
	})
	c := startWorker(t, fetcher)

	win, err := c.FetchBand(context.Background(), &utils.WindowRequest{Source: "a", Geometry: testGeometry, Scale: 10})
	require.NoError(t, err)
	assert.Nil(t, win.Band)
	assert.Equal(t, 2, win.Creation.Height)
}

func TestWorkerErrorKinds(t *testing.T) {
	tests := []struct {
		source string
		err    error
		kind   error
	}{
		{"nodata", &utils.FetchError{Kind: utils.ErrNoData}, utils.ErrNoData},
		{"crs", &utils.FetchError{Kind: utils.ErrCRSMismatch}, utils.ErrCRSMismatch},
		{"io", &utils.FetchError{Kind: utils.ErrFetchIO, Err: errors.New("timeout")}, utils.ErrFetchIO},
	}
	fetcher := utils.FetcherFunc(func(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
		for _, tt := range tests {
			if tt.source == req.Source {
				return nil, tt.err
			}
		}
		return nil, errors.New("rotated grids are not supported")
	})
	c := startWorker(t, fetcher)

	for _, tt := range tests {
		_, err := c.FetchBand(context.Background(), &utils.WindowRequest{Source: tt.source})
		assert.True(t, errors.Is(err, tt.kind), "%s: %v", tt.source, err)
	}

	_, err := c.FetchBand(context.Background(), &utils.WindowRequest{Source: "rotated"})
	require.Error(t, err)
	assert.False(t, utils.IsTransient(err))
	assert.Contains(t, err.Error(), "rotated grids")

	_, err = c.FetchBand(context.Background(), &utils.WindowRequest{})
	require.Error(t, err)
	assert.False(t, utils.IsTransient(err))
}

func TestWorkerContextErrors(t *testing.T) {
	fetcher := utils.FetcherFunc(func(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := startWorker(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchBand(ctx, &utils.WindowRequest{Source: "a"})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{&utils.FetchError{Kind: utils.ErrNoData}, codes.NotFound},
		{&utils.FetchError{Kind: utils.ErrCRSMismatch}, codes.FailedPrecondition},
		{&utils.FetchError{Kind: utils.ErrFetchIO}, codes.Unavailable},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("bad request"), codes.InvalidArgument},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}

func TestNewClientRequiresNodes(t *testing.T) {
	_, err := NewClient(nil, 0, nil)
	assert.Error(t, err)
}

func TestListen(t *testing.T) {
	lis, err := Listen("127.0.0.1:0", 2)
	require.NoError(t, err)
	defer lis.Close()
	assert.NotEmpty(t, lis.Addr().String())
}
