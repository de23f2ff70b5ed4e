// Package cas implements the content-addressed blob store. Payloads live in a
// FileStore under cas/<hh>/<hash>; blob rows and the per-version references
// holding them alive live in the metadata store. A blob is deleted when its
// last reference is released.
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/store"
)

// Blob is the metadata row of one stored payload. RefCount mirrors the number
// of Reference rows; the rows are the source of truth and Reconcile repairs
// drift.
type Blob struct {
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	RefCount  int       `json:"ref_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Reference ties a blob to the completed version holding it alive.
type Reference struct {
	Blob      string     `json:"blob"`
	Version   dawsync.ID `json:"version"`
	Project   dawsync.ID `json:"project"`
	CreatedAt time.Time  `json:"created_at"`
}

func blobKey(hash string) string { return "blob/" + hash }

func refKey(hash string, version dawsync.ID) string {
	return "blobref/" + hash + "/" + string(version)
}

func projRefKey(project dawsync.ID, hash string, version dawsync.ID) string {
	return "blobrefproj/" + string(project) + "/" + hash + "/" + string(version)
}

// PayloadKey returns the FileStore key of a blob. The two-character shard
// prefix keeps directory fan-out bounded.
func PayloadKey(hash string) string {
	return "cas/" + hash[:2] + "/" + hash
}

// Store is the blob store handle.
type Store struct {
	files store.FileStore
	db    *meta.DB
	clock dawsync.Clock

	// one mutex per content hash, guards store/acquire/release
	locks *xsync.MapOf[string, *sync.Mutex]
}

// New returns a blob store on top of files and db.
func New(files store.FileStore, db *meta.DB, clock dawsync.Clock) *Store {
	if clock == nil {
		clock = dawsync.SystemClock()
	}
	return &Store{
		files: files,
		db:    db,
		clock: clock,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

func (s *Store) lock(hash string) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(hash, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

// Get returns the metadata row of a blob.
func (s *Store) Get(hash string) (Blob, error) {
	var b Blob
	err := s.db.Get(blobKey(hash), &b)
	if meta.IsNotFound(err) {
		return Blob{}, errors.Kindf(errors.KindBlobMissing, "blob %v is not present", dawsync.ID(hash).Str())
	}
	return b, err
}

// Store writes the content of rd as a blob and returns its id (the content
// hash), size, and whether the payload was newly written. When expectedHash
// is non-empty the streamed content must hash to it, otherwise the write is
// rolled back with a HashMismatch error. At most one concurrent writer per
// hash wins; the others observe the existing row and return created=false.
func (s *Store) Store(ctx context.Context, rd io.Reader, expectedHash string) (string, int64, bool, error) {
	if expectedHash == "" {
		return s.storeUnknownHash(ctx, rd)
	}

	mu := s.lock(expectedHash)
	mu.Lock()
	defer mu.Unlock()

	if b, err := s.Get(expectedHash); err == nil {
		debug.Log("blob %v already present, size %d", dawsync.ID(b.Hash).Str(), b.Size)
		return b.Hash, b.Size, false, nil
	} else if !errors.IsKind(err, errors.KindBlobMissing) {
		return "", 0, false, err
	}

	hasher := sha256.New()
	key := PayloadKey(expectedHash)
	size, err := s.files.Put(ctx, key, io.TeeReader(rd, hasher))
	if err != nil {
		return "", 0, false, errors.Wrap(err, "store blob")
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expectedHash {
		_ = s.files.Delete(ctx, key)
		return "", 0, false, errors.Kindf(errors.KindHashMismatch,
			"content hashed to %v, expected %v", actual, expectedHash)
	}

	return expectedHash, size, true, s.put(expectedHash, size)
}

// storeUnknownHash spools the content to a temp file to learn its hash, then
// stores it under the per-hash lock like the known-hash path.
func (s *Store) storeUnknownHash(ctx context.Context, rd io.Reader) (string, int64, bool, error) {
	tmp, err := os.CreateTemp("", "dawsync-blob-")
	if err != nil {
		return "", 0, false, errors.Wrap(err, "CreateTemp")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), rd); err != nil {
		return "", 0, false, errors.Wrap(err, "spool blob")
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", 0, false, errors.Wrap(err, "Seek")
	}

	return s.Store(ctx, tmp, hex.EncodeToString(hasher.Sum(nil)))
}

func (s *Store) put(hash string, size int64) error {
	return s.db.Set(blobKey(hash), Blob{
		Hash:      hash,
		Size:      size,
		RefCount:  0,
		CreatedAt: s.clock.Now(),
	})
}

// Open returns a reader for the blob payload.
func (s *Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	if _, err := s.Get(hash); err != nil {
		return nil, err
	}
	rd, err := s.files.Open(ctx, PayloadKey(hash))
	if store.IsNotExist(err) {
		return nil, errors.Kindf(errors.KindBlobMissing, "blob %v has no payload", dawsync.ID(hash).Str())
	}
	return rd, err
}

// Acquire records that version holds the blob alive. Repeated acquires for
// the same (blob, version) pair are no-ops.
func (s *Store) Acquire(hash string, version, project dawsync.ID) error {
	mu := s.lock(hash)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.Get(hash)
	if err != nil {
		return err
	}

	held, err := s.db.Has(refKey(hash, version))
	if err != nil {
		return err
	}
	if held {
		return nil
	}

	batch := s.db.NewBatch()
	ref := Reference{Blob: hash, Version: version, Project: project, CreatedAt: s.clock.Now()}
	if err := batch.Set(refKey(hash, version), ref); err != nil {
		return err
	}
	if err := batch.Set(projRefKey(project, hash, version), ref); err != nil {
		return err
	}
	b.RefCount++
	if err := batch.Set(blobKey(hash), b); err != nil {
		return err
	}

	debug.Log("acquire blob %v for version %v, ref count %d", dawsync.ID(hash).Str(), version.Str(), b.RefCount)
	return batch.Commit()
}

// Release drops version's hold on the blob. When the last reference goes the
// payload and the blob row are deleted. Releasing a reference that was never
// acquired is a no-op.
func (s *Store) Release(ctx context.Context, hash string, version dawsync.ID) error {
	mu := s.lock(hash)
	mu.Lock()
	defer mu.Unlock()

	var ref Reference
	err := s.db.Get(refKey(hash, version), &ref)
	if meta.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	b, err := s.Get(hash)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	if err := batch.Delete(refKey(hash, version)); err != nil {
		return err
	}
	if err := batch.Delete(projRefKey(ref.Project, hash, version)); err != nil {
		return err
	}

	b.RefCount--
	if b.RefCount <= 0 {
		if err := batch.Delete(blobKey(hash)); err != nil {
			return err
		}
	} else if err := batch.Set(blobKey(hash), b); err != nil {
		return err
	}

	if err := batch.Commit(); err != nil {
		return err
	}
	debug.Log("release blob %v from version %v, ref count %d", dawsync.ID(hash).Str(), version.Str(), b.RefCount)

	if b.RefCount <= 0 {
		err := s.files.Delete(ctx, PayloadKey(hash))
		if err != nil && !store.IsNotExist(err) {
			return errors.Wrap(err, "delete payload")
		}
	}
	return nil
}

// HeldBy lists the hashes of the blobs the given version holds alive.
func (s *Store) HeldBy(project, version dawsync.ID) ([]string, error) {
	var hashes []string
	err := s.db.Scan("blobrefproj/"+string(project)+"/", func(_ string, value []byte) error {
		var ref Reference
		if err := decode(value, &ref); err != nil {
			return err
		}
		if ref.Version == version {
			hashes = append(hashes, ref.Blob)
		}
		return nil
	})
	return hashes, err
}

// References lists the references held on the blob.
func (s *Store) References(hash string) ([]Reference, error) {
	var refs []Reference
	err := s.db.Scan("blobref/"+hash+"/", func(_ string, value []byte) error {
		var ref Reference
		if err := decode(value, &ref); err != nil {
			return err
		}
		refs = append(refs, ref)
		return nil
	})
	return refs, err
}

// SweepStats reports what a sweep removed.
type SweepStats struct {
	BlobsDeleted int
	BytesFreed   int64
}

// Sweep deletes every blob whose ref count dropped to zero or below and
// prunes empty payload shards afterwards.
func (s *Store) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	var stale []Blob
	err := s.db.Scan("blob/", func(_ string, value []byte) error {
		var b Blob
		if err := decode(value, &b); err != nil {
			return err
		}
		if b.RefCount <= 0 {
			stale = append(stale, b)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, b := range stale {
		mu := s.lock(b.Hash)
		mu.Lock()
		// re-check under the lock, an acquire may have raced the scan
		cur, err := s.Get(b.Hash)
		if errors.IsKind(err, errors.KindBlobMissing) || (err == nil && cur.RefCount > 0) {
			mu.Unlock()
			continue
		}
		if err != nil {
			mu.Unlock()
			return stats, err
		}

		if err := s.db.Delete(blobKey(b.Hash)); err != nil {
			mu.Unlock()
			return stats, err
		}
		if err := s.files.Delete(ctx, PayloadKey(b.Hash)); err != nil && !store.IsNotExist(err) {
			mu.Unlock()
			return stats, errors.Wrap(err, "delete payload")
		}
		mu.Unlock()

		stats.BlobsDeleted++
		stats.BytesFreed += cur.Size
		debug.Log("swept blob %v (%d bytes)", dawsync.ID(b.Hash).Str(), cur.Size)
	}

	if err := store.RemoveEmptyShards(ctx, s.files, "cas/"); err != nil {
		return stats, err
	}
	return stats, nil
}

// Reconcile recomputes every blob's ref count from its reference rows and
// repairs drift. It returns the number of repaired rows.
func (s *Store) Reconcile() (int, error) {
	counts := make(map[string]int)
	err := s.db.Scan("blobref/", func(_ string, value []byte) error {
		var ref Reference
		if err := decode(value, &ref); err != nil {
			return err
		}
		counts[ref.Blob]++
		return nil
	})
	if err != nil {
		return 0, err
	}

	repaired := 0
	var blobs []Blob
	err = s.db.Scan("blob/", func(_ string, value []byte) error {
		var b Blob
		if err := decode(value, &b); err != nil {
			return err
		}
		blobs = append(blobs, b)
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, b := range blobs {
		want := counts[b.Hash]
		if b.RefCount == want {
			continue
		}
		debug.Log("repair blob %v ref count %d -> %d", dawsync.ID(b.Hash).Str(), b.RefCount, want)
		b.RefCount = want
		if err := s.db.Set(blobKey(b.Hash), b); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}

func decode(buf []byte, v interface{}) error {
	return errors.Wrap(json.Unmarshal(buf, v), "decode record")
}
