package repository

import (
	"context"
	"io"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/diff"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/store"
)

// manifestCacheSize bounds the decoded-manifest cache. Manifests are immutable
// once their version completes, so cached entries never go stale.
const manifestCacheSize = 64

// ManifestKey returns the FileStore key of a version's manifest document.
func ManifestKey(project, version dawsync.ID) string {
	return "projects/" + string(project) + "/versions/" + string(version) + "/manifest.json"
}

// SnapshotKey returns the FileStore key of a version's snapshot archive.
func SnapshotKey(project, version dawsync.ID) string {
	return "projects/" + string(project) + "/versions/" + string(version) + "/snapshot.zip"
}

// Versions stores version records and their manifest documents.
type Versions struct {
	db    *meta.DB
	files store.FileStore
	blobs *cas.Store
	clock dawsync.Clock

	manifests *lru.Cache[dawsync.ID, []manifest.Entry]
}

// NewVersions returns a version store.
func NewVersions(db *meta.DB, files store.FileStore, blobs *cas.Store, clock dawsync.Clock) (*Versions, error) {
	if clock == nil {
		clock = dawsync.SystemClock()
	}
	cache, err := lru.New[dawsync.ID, []manifest.Entry](manifestCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "lru.New")
	}
	return &Versions{db: db, files: files, blobs: blobs, clock: clock, manifests: cache}, nil
}

// CreatePending inserts a placeholder version for a starting push.
func (vs *Versions) CreatePending(project dawsync.ID, actor, message string) (*dawsync.Version, error) {
	v := &dawsync.Version{
		UID:           dawsync.NewID(),
		Project:       project,
		CreatedBy:     actor,
		CommitMessage: dawsync.SanitizeText(message),
		Status:        dawsync.VersionPending,
		CreatedAt:     vs.clock.Now(),
	}

	batch := vs.db.NewBatch()
	if err := batch.Set(versionKey(v.UID), v); err != nil {
		return nil, err
	}
	if err := batch.Set(vprojKey(project, v.UID), v.UID); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	debug.Log("created pending version %v in project %v", v.UID.Str(), project.Str())
	return v, nil
}

// Get loads a version.
func (vs *Versions) Get(uid dawsync.ID) (*dawsync.Version, error) {
	var v dawsync.Version
	if err := vs.db.Get(versionKey(uid), &v); err != nil {
		return nil, notFound(err, "version", uid)
	}
	return &v, nil
}

// Save writes back a modified version record.
func (vs *Versions) Save(v *dawsync.Version) error {
	return vs.db.Set(versionKey(v.UID), v)
}

// FindCompletedByHash performs the dedupe lookup. It returns (nil, nil) when
// no completed version of the project carries the manifest hash.
func (vs *Versions) FindCompletedByHash(project dawsync.ID, hash string) (*dawsync.Version, error) {
	var uid dawsync.ID
	err := vs.db.Get(vhashKey(project, hash), &uid)
	if meta.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return vs.Get(uid)
}

// CountCompleted returns the number of completed versions in the project.
func (vs *Versions) CountCompleted(project dawsync.ID) (int, error) {
	return vs.db.Count("vcomp/" + string(project) + "/")
}

// CompleteParams carries the commit payload of a finishing push.
type CompleteParams struct {
	IsSnapshot  bool
	ManifestRef string
	SnapshotRef string
	FileCount   int
	FileSize    int64
	Hash        string
	Previous    dawsync.ID
	Diff        diff.Result
}

// NextNumber returns the version number the next completing version gets.
// Numbers are one past the highest live number, so deleted versions leave
// gaps instead of being reused.
func (vs *Versions) NextNumber(project dawsync.ID) (int, error) {
	completed, err := vs.ListCompleted(project)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, v := range completed {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max + 1, nil
}

// Complete atomically flips the version to completed, assigns the next
// version number, and registers the dedupe and completion indexes. The caller
// must hold the project mutex.
func (vs *Versions) Complete(v *dawsync.Version, params CompleteParams) error {
	num, err := vs.NextNumber(v.Project)
	if err != nil {
		return err
	}

	v.Status = dawsync.VersionCompleted
	v.VersionNumber = num
	v.CompletedAt = vs.clock.Now()
	v.IsSnapshot = params.IsSnapshot
	v.ManifestRef = params.ManifestRef
	v.SnapshotRef = params.SnapshotRef
	v.FileCount = params.FileCount
	v.FileSize = params.FileSize
	v.Hash = params.Hash
	v.PreviousVersion = params.Previous
	v.FilesAdded = params.Diff.FilesAdded
	v.FilesModified = params.Diff.FilesModified
	v.FilesDeleted = params.Diff.FilesDeleted
	v.SizeChange = params.Diff.SizeChange
	v.ChangeDetails = params.Diff.Details

	batch := vs.db.NewBatch()
	if err := batch.Set(versionKey(v.UID), v); err != nil {
		return err
	}
	if err := batch.Set(vcompKey(v.Project, v.UID), v.UID); err != nil {
		return err
	}
	if err := batch.Set(vhashKey(v.Project, params.Hash), v.UID); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	debug.Log("completed version %v as v%d (%v)", v.UID.Str(), v.VersionNumber, v.StorageType())
	return nil
}

// Fail marks the version failed and records the reason.
func (vs *Versions) Fail(v *dawsync.Version, reason string) error {
	v.Status = dawsync.VersionFailed
	v.ErrorDetails = dawsync.SanitizeText(reason)
	return vs.Save(v)
}

// Delete removes the version, releases every blob it holds, and deletes its
// stored artifacts. Completed versions keep their number; later versions are
// never renumbered.
func (vs *Versions) Delete(ctx context.Context, v *dawsync.Version) error {
	held, err := vs.blobs.HeldBy(v.Project, v.UID)
	if err != nil {
		return err
	}
	for _, hash := range held {
		if err := vs.blobs.Release(ctx, hash, v.UID); err != nil {
			return err
		}
	}

	for _, ref := range []string{v.ManifestRef, v.SnapshotRef} {
		if ref == "" {
			continue
		}
		if err := vs.files.Delete(ctx, ref); err != nil && !store.IsNotExist(err) {
			return errors.Wrap(err, "delete artifact")
		}
	}

	batch := vs.db.NewBatch()
	if err := batch.Delete(versionKey(v.UID)); err != nil {
		return err
	}
	if err := batch.Delete(vprojKey(v.Project, v.UID)); err != nil {
		return err
	}
	if err := batch.Delete(vcompKey(v.Project, v.UID)); err != nil {
		return err
	}
	if v.Hash != "" {
		// only drop the dedupe entry if it still points at this version
		var uid dawsync.ID
		err := vs.db.Get(vhashKey(v.Project, v.Hash), &uid)
		if err == nil && uid == v.UID {
			if err := batch.Delete(vhashKey(v.Project, v.Hash)); err != nil {
				return err
			}
		} else if err != nil && !meta.IsNotFound(err) {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}

	vs.manifests.Remove(v.UID)
	debug.Log("deleted version %v (released %d blobs)", v.UID.Str(), len(held))
	return nil
}

// ListCompleted returns the completed versions of a project, newest first.
func (vs *Versions) ListCompleted(project dawsync.ID) ([]*dawsync.Version, error) {
	var versions []*dawsync.Version
	err := vs.db.Scan("vcomp/"+string(project)+"/", func(_ string, value []byte) error {
		var uid dawsync.ID
		if err := decode(value, &uid); err != nil {
			return err
		}
		v, err := vs.Get(uid)
		if err != nil {
			return err
		}
		versions = append(versions, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].VersionNumber > versions[j].VersionNumber
		}
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// ListAll returns every version of the project regardless of status, newest
// first.
func (vs *Versions) ListAll(project dawsync.ID) ([]*dawsync.Version, error) {
	var versions []*dawsync.Version
	err := vs.db.Scan("vproj/"+string(project)+"/", func(_ string, value []byte) error {
		var uid dawsync.ID
		if err := decode(value, &uid); err != nil {
			return err
		}
		v, err := vs.Get(uid)
		if err != nil {
			return err
		}
		versions = append(versions, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

// LatestCompleted returns the most recent completed version, or nil if the
// project has none.
func (vs *Versions) LatestCompleted(project dawsync.ID) (*dawsync.Version, error) {
	versions, err := vs.ListCompleted(project)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return versions[0], nil
}

// Manifest loads and decodes the version's manifest entries, caching the
// result. Snapshot versions have no manifest; they yield (nil, nil).
func (vs *Versions) Manifest(ctx context.Context, v *dawsync.Version) ([]manifest.Entry, error) {
	if v.ManifestRef == "" {
		return nil, nil
	}
	if entries, ok := vs.manifests.Get(v.UID); ok {
		return entries, nil
	}

	rd, err := vs.files.Open(ctx, v.ManifestRef)
	if store.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rd.Close()
	}()

	buf, err := io.ReadAll(rd)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	m, err := manifest.Decode(buf)
	if err != nil {
		return nil, err
	}

	vs.manifests.Add(v.UID, m.Files)
	return m.Files, nil
}
