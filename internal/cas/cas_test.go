package cas_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/store"
	rtest "github.com/dawsync/dawsync/internal/test"
)

func newStore(t *testing.T) (*cas.Store, store.FileStore) {
	db, err := meta.Open(rtest.TempDir(t))
	rtest.OK(t, err)
	t.Cleanup(func() {
		rtest.OK(t, db.Close())
	})

	files := store.NewMemory()
	return cas.New(files, db, nil), files
}

func hashOf(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func TestStoreAndOpen(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	content := rtest.Random(23, 2048)
	hash := hashOf(content)

	id, size, created, err := s.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)
	rtest.Equals(t, hash, id)
	rtest.Equals(t, int64(len(content)), size)
	rtest.Assert(t, created, "first store must create the payload")

	rd, err := s.Open(ctx, id)
	rtest.OK(t, err)
	got, err := io.ReadAll(rd)
	rtest.OK(t, err)
	rtest.OK(t, rd.Close())
	rtest.Equals(t, content, got)
}

func TestStoreDeduplicates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	content := rtest.Random(5, 100)
	hash := hashOf(content)

	_, _, created, err := s.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)
	rtest.Assert(t, created, "expected created=true")

	_, size, created, err := s.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)
	rtest.Assert(t, !created, "second store must not rewrite")
	rtest.Equals(t, int64(len(content)), size)
}

func TestStoreUnknownHash(t *testing.T) {
	s, _ := newStore(t)
	content := rtest.Random(9, 512)

	id, size, created, err := s.Store(context.Background(), bytes.NewReader(content), "")
	rtest.OK(t, err)
	rtest.Equals(t, hashOf(content), id)
	rtest.Equals(t, int64(len(content)), size)
	rtest.Assert(t, created, "expected created=true")
}

func TestStoreHashMismatch(t *testing.T) {
	s, files := newStore(t)
	ctx := context.Background()
	content := rtest.Random(7, 64)
	wrong := hashOf([]byte("something else"))

	_, _, _, err := s.Store(ctx, bytes.NewReader(content), wrong)
	rtest.Assert(t, errors.IsKind(err, errors.KindHashMismatch), "expected HashMismatch, got %v", err)

	// the partial payload must not stay behind
	ok, err := files.Exists(ctx, cas.PayloadKey(wrong))
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)

	_, err = s.Open(ctx, wrong)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "expected BlobMissing, got %v", err)
}

func TestOpenMissing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Open(context.Background(), hashOf([]byte("nope")))
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "expected BlobMissing, got %v", err)
}

func TestAcquireRelease(t *testing.T) {
	s, files := newStore(t)
	ctx := context.Background()
	content := rtest.Random(11, 300)
	hash := hashOf(content)
	project := dawsync.NewID()
	v1, v2 := dawsync.NewID(), dawsync.NewID()

	_, _, _, err := s.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)

	rtest.OK(t, s.Acquire(hash, v1, project))
	rtest.OK(t, s.Acquire(hash, v1, project)) // idempotent
	rtest.OK(t, s.Acquire(hash, v2, project))

	b, err := s.Get(hash)
	rtest.OK(t, err)
	rtest.Equals(t, 2, b.RefCount)

	rtest.OK(t, s.Release(ctx, hash, v1))
	b, err = s.Get(hash)
	rtest.OK(t, err)
	rtest.Equals(t, 1, b.RefCount)

	// last release removes the payload and the row
	rtest.OK(t, s.Release(ctx, hash, v2))
	_, err = s.Get(hash)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "expected BlobMissing, got %v", err)

	ok, err := files.Exists(ctx, cas.PayloadKey(hash))
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)

	// releasing again stays a no-op
	rtest.OK(t, s.Release(ctx, hash, v2))
}

func TestAcquireMissingBlob(t *testing.T) {
	s, _ := newStore(t)
	err := s.Acquire(hashOf([]byte("ghost")), dawsync.NewID(), dawsync.NewID())
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "expected BlobMissing, got %v", err)
}

func TestSweep(t *testing.T) {
	s, files := newStore(t)
	ctx := context.Background()
	project := dawsync.NewID()
	version := dawsync.NewID()

	held := rtest.Random(3, 400)
	orphan := rtest.Random(4, 200)

	_, _, _, err := s.Store(ctx, bytes.NewReader(held), hashOf(held))
	rtest.OK(t, err)
	rtest.OK(t, s.Acquire(hashOf(held), version, project))

	_, _, _, err = s.Store(ctx, bytes.NewReader(orphan), hashOf(orphan))
	rtest.OK(t, err)

	stats, err := s.Sweep(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, 1, stats.BlobsDeleted)
	rtest.Equals(t, int64(len(orphan)), stats.BytesFreed)

	ok, err := files.Exists(ctx, cas.PayloadKey(hashOf(held)))
	rtest.OK(t, err)
	rtest.Equals(t, true, ok)

	_, err = s.Get(hashOf(orphan))
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "orphan must be gone, got %v", err)
}

func TestReconcile(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	content := rtest.Random(6, 128)
	hash := hashOf(content)
	project := dawsync.NewID()

	_, _, _, err := s.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)
	rtest.OK(t, s.Acquire(hash, dawsync.NewID(), project))
	rtest.OK(t, s.Acquire(hash, dawsync.NewID(), project))

	repaired, err := s.Reconcile()
	rtest.OK(t, err)
	rtest.Equals(t, 0, repaired)

	refs, err := s.References(hash)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(refs))
}
