package repository_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/diff"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/repository"
	"github.com/dawsync/dawsync/internal/store"
	rtest "github.com/dawsync/dawsync/internal/test"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type env struct {
	db        *meta.DB
	files     store.FileStore
	blobs     *cas.Store
	projects  *repository.Projects
	versions  *repository.Versions
	pushes    *repository.Pushes
	downloads *repository.Downloads
	clock     *fakeClock
}

func newEnv(t *testing.T) *env {
	db, err := meta.Open(rtest.TempDir(t))
	rtest.OK(t, err)
	t.Cleanup(func() {
		rtest.OK(t, db.Close())
	})

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	files := store.NewMemory()
	blobs := cas.New(files, db, clock)
	versions, err := repository.NewVersions(db, files, blobs, clock)
	rtest.OK(t, err)

	return &env{
		db:        db,
		files:     files,
		blobs:     blobs,
		projects:  repository.NewProjects(db, clock),
		versions:  versions,
		pushes:    repository.NewPushes(db, clock),
		downloads: repository.NewDownloads(db, files, clock),
		clock:     clock,
	}
}

func (e *env) completeVersion(t *testing.T, project dawsync.ID, hash string) *dawsync.Version {
	v, err := e.versions.CreatePending(project, "alice", "msg")
	rtest.OK(t, err)
	rtest.OK(t, e.versions.Complete(v, repository.CompleteParams{
		ManifestRef: repository.ManifestKey(project, v.UID),
		Hash:        hash,
		FileCount:   1,
		FileSize:    10,
		Diff:        diff.Result{FilesAdded: 1, SizeChange: 10},
	}))
	return v
}

func TestProjectLifecycle(t *testing.T) {
	e := newEnv(t)

	proj, err := e.projects.Create("alice", "My \x07Song", "demo", true, []string{"*.tmp"})
	rtest.OK(t, err)
	rtest.Equals(t, "My Song", proj.Name)

	got, err := e.projects.Get(proj.UID)
	rtest.OK(t, err)
	rtest.Equals(t, proj.UID, got.UID)
	rtest.Equals(t, true, got.RequirePushApproval)

	_, err = e.projects.Get(dawsync.NewID())
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "expected NotFound, got %v", err)
}

func TestVersionNumberingAtCompletion(t *testing.T) {
	e := newEnv(t)
	project := dawsync.NewID()

	v1 := e.completeVersion(t, project, "h1")
	v2 := e.completeVersion(t, project, "h2")
	rtest.Equals(t, 1, v1.VersionNumber)
	rtest.Equals(t, 2, v2.VersionNumber)

	// deleting v1 must not renumber v2, and its number is never reused
	rtest.OK(t, e.versions.Delete(context.Background(), v1))
	got, err := e.versions.Get(v2.UID)
	rtest.OK(t, err)
	rtest.Equals(t, 2, got.VersionNumber)

	v3 := e.completeVersion(t, project, "h3")
	rtest.Equals(t, 3, v3.VersionNumber)
}

func TestFindCompletedByHash(t *testing.T) {
	e := newEnv(t)
	project := dawsync.NewID()

	v := e.completeVersion(t, project, "deadbeef")

	got, err := e.versions.FindCompletedByHash(project, "deadbeef")
	rtest.OK(t, err)
	rtest.Assert(t, got != nil && got.UID == v.UID, "dedupe lookup failed: %v", got)

	got, err = e.versions.FindCompletedByHash(project, "other")
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "expected no match, got %v", got)

	// pending versions are invisible to the dedupe index
	_, err = e.versions.CreatePending(project, "alice", "wip")
	rtest.OK(t, err)
	got, err = e.versions.FindCompletedByHash(project, "wip-hash")
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "pending version must not be found")
}

func TestListCompletedNewestFirst(t *testing.T) {
	e := newEnv(t)
	project := dawsync.NewID()

	e.completeVersion(t, project, "h1")
	v2 := e.completeVersion(t, project, "h2")

	list, err := e.versions.ListCompleted(project)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(list))
	rtest.Equals(t, v2.UID, list[0].UID)

	latest, err := e.versions.LatestCompleted(project)
	rtest.OK(t, err)
	rtest.Equals(t, v2.UID, latest.UID)
}

func TestVersionDeleteReleasesBlobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	project := dawsync.NewID()

	content := rtest.Random(1, 256)
	hash, _, err := manifest.HashReader(bytes.NewReader(content))
	rtest.OK(t, err)
	_, _, _, err = e.blobs.Store(ctx, bytes.NewReader(content), hash)
	rtest.OK(t, err)

	v := e.completeVersion(t, project, "vh")
	rtest.OK(t, e.blobs.Acquire(hash, v.UID, project))

	rtest.OK(t, e.versions.Delete(ctx, v))

	_, err = e.blobs.Get(hash)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "blob must be gone, got %v", err)

	_, err = e.versions.Get(v.UID)
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "version must be gone, got %v", err)

	got, err := e.versions.FindCompletedByHash(project, "vh")
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "dedupe entry must be gone")
}

func TestManifestRoundtripAndCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	project := dawsync.NewID()

	entries := []manifest.Entry{
		{Path: "a.wav", Hash: "aa", Size: 3, Storage: manifest.StorageInline, Content: "eHl6"},
	}
	buf, err := manifest.Encode(entries, 1048576, e.clock.Now())
	rtest.OK(t, err)

	v, err := e.versions.CreatePending(project, "alice", "msg")
	rtest.OK(t, err)
	ref := repository.ManifestKey(project, v.UID)
	_, err = e.files.Put(ctx, ref, bytes.NewReader(buf))
	rtest.OK(t, err)
	rtest.OK(t, e.versions.Complete(v, repository.CompleteParams{ManifestRef: ref, Hash: manifest.Hash(entries)}))

	got, err := e.versions.Manifest(ctx, v)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(got))
	rtest.Equals(t, "a.wav", got[0].Path)

	// cached: survives deletion of the underlying document
	rtest.OK(t, e.files.Delete(ctx, ref))
	got, err = e.versions.Manifest(ctx, v)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(got))
}

func TestManifestOfSnapshotVersion(t *testing.T) {
	e := newEnv(t)

	v := &dawsync.Version{UID: dawsync.NewID(), IsSnapshot: true}
	got, err := e.versions.Manifest(context.Background(), v)
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "snapshot version has no manifest")
}

func TestPushLifecycle(t *testing.T) {
	e := newEnv(t)
	project := dawsync.NewID()

	push, err := e.pushes.Create(project, "bob", "new mix", []dawsync.FileRecord{
		{RelativePath: "a.wav", Hash: "aa", Size: 1},
	}, dawsync.PushPending)
	rtest.OK(t, err)

	rtest.OK(t, e.pushes.SetProgress(push, 55, "copying"))
	got, err := e.pushes.Get(push.UID)
	rtest.OK(t, err)
	rtest.Equals(t, 55, got.Progress)
	rtest.Equals(t, "copying", got.Message)

	other, err := e.pushes.Create(project, "bob", "later", nil, dawsync.PushPending)
	rtest.OK(t, err)

	list, err := e.pushes.ListByProject(project)
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(list))
	rtest.Equals(t, other.UID, list[0].UID)
}

func TestDownloadCoalescing(t *testing.T) {
	e := newEnv(t)
	version := dawsync.NewID()
	now := e.clock.now

	got, err := e.downloads.FindReusable(version, "carol", now)
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "expected no reusable request")

	req, err := e.downloads.Create(version, "carol")
	rtest.OK(t, err)

	got, err = e.downloads.FindReusable(version, "carol", now)
	rtest.OK(t, err)
	rtest.Assert(t, got != nil && got.UID == req.UID, "pending request must be reused")

	// another actor's request is never reused
	got, err = e.downloads.FindReusable(version, "dave", now)
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "requests are scoped per actor")

	// completed and unexpired: reusable
	req.Status = dawsync.DownloadCompleted
	req.ExpiresAt = now.Add(time.Hour)
	rtest.OK(t, e.downloads.Save(req))
	got, err = e.downloads.FindReusable(version, "carol", now)
	rtest.OK(t, err)
	rtest.Assert(t, got != nil, "completed unexpired request must be reused")

	// expired: not reusable
	got, err = e.downloads.FindReusable(version, "carol", now.Add(2*time.Hour))
	rtest.OK(t, err)
	rtest.Assert(t, got == nil, "expired request must not be reused")
}

func TestDownloadExpireSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	version := dawsync.NewID()

	req, err := e.downloads.Create(version, "carol")
	rtest.OK(t, err)

	ref := repository.ArtifactKey(req.UID)
	_, err = e.files.Put(ctx, ref, bytes.NewReader([]byte("zip")))
	rtest.OK(t, err)

	req.Status = dawsync.DownloadCompleted
	req.ArtifactRef = ref
	req.ExpiresAt = e.clock.now.Add(time.Hour)
	rtest.OK(t, e.downloads.Save(req))

	expired, err := e.downloads.ListExpired(e.clock.now.Add(2 * time.Hour))
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(expired))

	rtest.OK(t, e.downloads.Expire(ctx, expired[0]))

	ok, err := e.files.Exists(ctx, ref)
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)

	got, err := e.downloads.Get(req.UID)
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.DownloadExpired, got.Status)
}
