package utils

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrFetchIO     = errors.New("raster read failed")
	ErrNoData      = errors.New("window contains no data")
	ErrCRSMismatch = errors.New("crs mismatch")
)

// FetchError is returned by Fetcher implementations. Kind is one of
// ErrFetchIO, ErrNoData or ErrCRSMismatch.
type FetchError struct {
	Kind   error
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	msg := e.Kind.Error()
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a read failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFetchIO)
}

// WindowRequest asks for one band of a remote raster, reprojected onto the
// grid covering Geometry at Scale.
type WindowRequest struct {
	Source      string
	Geometry    *Geometry
	Scale       float64
	Discrete    bool
	Clip        bool
	BandIndices []int
}

// Window is a fetched band. Band is nil when the whole window is nodata.
type Window struct {
	Creation CreationArgs
	Band     *Band
}

// Fetcher retrieves and reprojects band windows from raster sources.
type Fetcher interface {
	FetchBand(ctx context.Context, req *WindowRequest) (*Window, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *WindowRequest) (*Window, error)

func (f FetcherFunc) FetchBand(ctx context.Context, req *WindowRequest) (*Window, error) {
	return f(ctx, req)
}
