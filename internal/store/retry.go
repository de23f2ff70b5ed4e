package store

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dawsync/dawsync/internal/debug"
)

// retryInitialInterval is the delay before the first retry. The library
// default of half a second leaves no room for retries under a short
// MaxElapsedTime budget.
const retryInitialInterval = 100 * time.Millisecond

// Retry wraps a FileStore and retries failed operations with exponential
// backoff. Context cancellation and errors marked with backoff.Permanent stop
// the retries.
type Retry struct {
	FileStore
	MaxElapsedTime time.Duration
	Report         func(msg string, err error, d time.Duration)
}

var _ FileStore = &Retry{}
var _ Unwrapper = &Retry{}

// NewRetry wraps s with retrying behavior. report is called with a
// description and the error, if one occurred.
func NewRetry(s FileStore, maxElapsedTime time.Duration, report func(string, error, time.Duration)) *Retry {
	return &Retry{
		FileStore:      s,
		MaxElapsedTime: maxElapsedTime,
		Report:         report,
	}
}

func (s *Retry) Unwrap() FileStore { return s.FileStore }

func (s *Retry) retry(ctx context.Context, msg string, f func() error) error {
	// Don't do anything when called with an already cancelled context. There
	// would be no retries in that case either, so be consistent and abort
	// always.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxElapsedTime = s.MaxElapsedTime

	notify := func(err error, d time.Duration) {
		if s.Report != nil {
			s.Report(msg, err, d)
		}
	}

	err := backoff.RetryNotify(func() error {
		err := f()
		// a missing key does not become present by retrying
		if IsNotExist(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), notify)

	if permanent, ok := err.(*backoff.PermanentError); ok {
		return permanent.Err
	}
	return err
}

// Put retries the full upload. The reader must be restartable, so the data is
// buffered on the first attempt when retries are possible; callers with large
// payloads should hand in an io.ReadSeeker.
func (s *Retry) Put(ctx context.Context, key string, rd io.Reader) (int64, error) {
	seeker, ok := rd.(io.ReadSeeker)
	if !ok {
		// single attempt, nothing to rewind
		debug.Log("Put %v without rewind support", key)
		return s.FileStore.Put(ctx, key, rd)
	}

	var n int64
	err := s.retry(ctx, "Put("+key+")", func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		n, err = s.FileStore.Put(ctx, key, seeker)
		return err
	})
	return n, err
}

func (s *Retry) Open(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	err = s.retry(ctx, "Open("+key+")", func() error {
		var err error
		rc, err = s.FileStore.Open(ctx, key)
		return err
	})
	return rc, err
}

func (s *Retry) Delete(ctx context.Context, key string) error {
	return s.retry(ctx, "Delete("+key+")", func() error {
		return s.FileStore.Delete(ctx, key)
	})
}

func (s *Retry) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = s.retry(ctx, "Exists("+key+")", func() error {
		var err error
		ok, err = s.FileStore.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (s *Retry) Stat(ctx context.Context, key string) (size int64, err error) {
	err = s.retry(ctx, "Stat("+key+")", func() error {
		var err error
		size, err = s.FileStore.Stat(ctx, key)
		return err
	})
	return size, err
}
