package store_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/dawsync/dawsync/internal/store"
	rtest "github.com/dawsync/dawsync/internal/test"
)

func testStores(t *testing.T) map[string]store.FileStore {
	local, err := store.OpenLocal(rtest.TempDir(t))
	rtest.OK(t, err)

	return map[string]store.FileStore{
		"local": local,
		"mem":   store.NewMemory(),
	}
}

func TestPutOpenRoundtrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := rtest.Random(23, 4096)

			n, err := s.Put(ctx, "cas/ab/abcdef", bytes.NewReader(data))
			rtest.OK(t, err)
			rtest.Equals(t, int64(len(data)), n)

			rd, err := s.Open(ctx, "cas/ab/abcdef")
			rtest.OK(t, err)
			buf, err := io.ReadAll(rd)
			rtest.OK(t, err)
			rtest.OK(t, rd.Close())
			rtest.Equals(t, data, buf)

			size, err := s.Stat(ctx, "cas/ab/abcdef")
			rtest.OK(t, err)
			rtest.Equals(t, int64(len(data)), size)

			ok, err := s.Exists(ctx, "cas/ab/abcdef")
			rtest.OK(t, err)
			rtest.Assert(t, ok, "object must exist after Put")
		})
	}
}

func TestOpenMissing(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Open(context.Background(), "no/such/key")
			rtest.Assert(t, store.IsNotExist(err), "expected not-exist error, got %v", err)

			_, err = s.Stat(context.Background(), "no/such/key")
			rtest.Assert(t, store.IsNotExist(err), "expected not-exist error, got %v", err)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Put(ctx, "downloads/x.zip", bytes.NewReader([]byte("zip")))
			rtest.OK(t, err)
			rtest.OK(t, s.Delete(ctx, "downloads/x.zip"))

			ok, err := s.Exists(ctx, "downloads/x.zip")
			rtest.OK(t, err)
			rtest.Assert(t, !ok, "object must be gone after Delete")

			err = s.Delete(ctx, "downloads/x.zip")
			rtest.Assert(t, store.IsNotExist(err), "double delete must report not-exist, got %v", err)
		})
	}
}

func TestList(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"cas/aa/one", "cas/bb/two", "meta/three"} {
				_, err := s.Put(ctx, key, bytes.NewReader([]byte(key)))
				rtest.OK(t, err)
			}

			var keys []string
			rtest.OK(t, s.List(ctx, "cas/", func(key string, size int64) error {
				keys = append(keys, key)
				return nil
			}))
			rtest.Equals(t, []string{"cas/aa/one", "cas/bb/two"}, keys)
		})
	}
}

func TestPutReplaces(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Put(ctx, "k", bytes.NewReader([]byte("first")))
			rtest.OK(t, err)
			_, err = s.Put(ctx, "k", bytes.NewReader([]byte("second")))
			rtest.OK(t, err)

			rd, err := s.Open(ctx, "k")
			rtest.OK(t, err)
			buf, err := io.ReadAll(rd)
			rtest.OK(t, err)
			rtest.OK(t, rd.Close())
			rtest.Equals(t, "second", string(buf))
		})
	}
}

func TestRemoveEmptyShards(t *testing.T) {
	ctx := context.Background()
	local, err := store.OpenLocal(rtest.TempDir(t))
	rtest.OK(t, err)

	_, err = local.Put(ctx, "cas/aa/blob", bytes.NewReader([]byte("x")))
	rtest.OK(t, err)
	rtest.OK(t, local.Delete(ctx, "cas/aa/blob"))
	rtest.OK(t, store.RemoveEmptyShards(ctx, local, "cas"))

	var keys []string
	rtest.OK(t, local.List(ctx, "cas/", func(key string, size int64) error {
		keys = append(keys, key)
		return nil
	}))
	rtest.Equals(t, 0, len(keys))
}

// flakyStore fails the first n operations.
type flakyStore struct {
	store.FileStore
	failures int
}

func (s *flakyStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.failures > 0 {
		s.failures--
		return nil, io.ErrUnexpectedEOF
	}
	return s.FileStore.Open(ctx, key)
}

func TestRetryOpen(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	_, err := mem.Put(ctx, "k", bytes.NewReader([]byte("payload")))
	rtest.OK(t, err)

	retried := store.NewRetry(&flakyStore{FileStore: mem, failures: 2}, time.Second, nil)
	rd, err := retried.Open(ctx, "k")
	rtest.OK(t, err)
	buf, err := io.ReadAll(rd)
	rtest.OK(t, err)
	rtest.OK(t, rd.Close())
	rtest.Equals(t, "payload", string(buf))
}

func TestRetryNotExistIsPermanent(t *testing.T) {
	retried := store.NewRetry(store.NewMemory(), time.Second, nil)
	start := time.Now()
	_, err := retried.Open(context.Background(), "missing")
	rtest.Assert(t, store.IsNotExist(err), "expected not-exist, got %v", err)
	rtest.Assert(t, time.Since(start) < 500*time.Millisecond, "missing key must not be retried")
}

func TestLimitedRoundtrip(t *testing.T) {
	ctx := context.Background()
	limited := store.NewLimited(store.NewMemory(), 10*1024, 10*1024)

	data := rtest.Random(7, 2048)
	_, err := limited.Put(ctx, "k", bytes.NewReader(data))
	rtest.OK(t, err)

	rd, err := limited.Open(ctx, "k")
	rtest.OK(t, err)
	buf, err := io.ReadAll(rd)
	rtest.OK(t, err)
	rtest.OK(t, rd.Close())
	rtest.Equals(t, data, buf)
}
