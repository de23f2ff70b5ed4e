package store

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limited wraps a FileStore with static upstream/downstream throughput caps.
type Limited struct {
	FileStore
	up   *rate.Limiter
	down *rate.Limiter
}

var _ FileStore = &Limited{}
var _ Unwrapper = &Limited{}

const limiterBurst = 64 * 1024

// NewLimited caps uploads and downloads at the given rates in KiB/s. A zero
// rate leaves the direction unlimited.
func NewLimited(s FileStore, uploadKb, downloadKb int) *Limited {
	l := &Limited{FileStore: s}
	if uploadKb > 0 {
		l.up = rate.NewLimiter(rate.Limit(uploadKb*1024), limiterBurst)
	}
	if downloadKb > 0 {
		l.down = rate.NewLimiter(rate.Limit(downloadKb*1024), limiterBurst)
	}
	return l
}

func (s *Limited) Unwrap() FileStore { return s.FileStore }

type limitedReader struct {
	io.Reader
	ctx context.Context
	lim *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if len(p) > limiterBurst {
		p = p[:limiterBurst]
	}
	n, err := r.Reader.Read(p)
	if n > 0 {
		if werr := r.lim.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type limitedReadCloser struct {
	limitedReader
	io.Closer
}

func (s *Limited) Put(ctx context.Context, key string, rd io.Reader) (int64, error) {
	if s.up != nil {
		rd = &limitedReader{Reader: rd, ctx: ctx, lim: s.up}
	}
	return s.FileStore.Put(ctx, key, rd)
}

func (s *Limited) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.FileStore.Open(ctx, key)
	if err != nil || s.down == nil {
		return rc, err
	}
	return &limitedReadCloser{
		limitedReader: limitedReader{Reader: rc, ctx: ctx, lim: s.down},
		Closer:        rc,
	}, nil
}
