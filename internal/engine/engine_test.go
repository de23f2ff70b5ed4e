package engine_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/engine"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
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

// manualQueue collects jobs so tests control when workers run.
type manualQueue struct {
	jobs     []job
	handlers map[string]func(context.Context, string) error
}

type job struct {
	task    string
	payload string
}

func (q *manualQueue) Enqueue(_ context.Context, task, payload string) error {
	q.jobs = append(q.jobs, job{task: task, payload: payload})
	return nil
}

// Run executes all pending jobs and returns the first handler error.
func (q *manualQueue) Run(t *testing.T) error {
	for len(q.jobs) > 0 {
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		h, ok := q.handlers[j.task]
		if !ok {
			t.Fatalf("no handler for task %v", j.task)
		}
		if err := h(context.Background(), j.payload); err != nil {
			return err
		}
	}
	return nil
}

type env struct {
	t       *testing.T
	e       *engine.Engine
	q       *manualQueue
	clock   *fakeClock
	files   store.FileStore
	project *dawsync.Project
	content map[string][]byte

	// onFetch, if set, runs before each content fetch
	onFetch func(rec dawsync.FileRecord)
	// onPut, if set, runs before each file store write
	onPut func(key string)
}

// hookStore lets tests intercept writes to the file store.
type hookStore struct {
	store.FileStore
	env *env
}

func (s *hookStore) Put(ctx context.Context, key string, rd io.Reader) (int64, error) {
	if s.env.onPut != nil {
		s.env.onPut(key)
	}
	return s.FileStore.Put(ctx, key, rd)
}

func newEnv(t *testing.T, cfg engine.Config) *env {
	db, err := meta.Open(rtest.TempDir(t))
	rtest.OK(t, err)
	t.Cleanup(func() {
		rtest.OK(t, db.Close())
	})

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	q := &manualQueue{handlers: make(map[string]func(context.Context, string) error)}
	content := make(map[string][]byte)

	policy := dawsync.OwnerPolicy{Editors: make(map[dawsync.ID][]string)}

	env := &env{t: t, q: q, clock: clock, content: content}
	files := &hookStore{FileStore: store.NewMemory(), env: env}
	env.files = files

	e, err := engine.New(cfg, engine.Options{
		DB:     db,
		Files:  files,
		Queue:  q,
		Policy: policy,
		Clock:  clock,
		Source: func(rec dawsync.FileRecord) (io.ReadCloser, error) {
			if env.onFetch != nil {
				env.onFetch(rec)
			}
			data, ok := content[rec.RelativePath]
			if !ok {
				return nil, errors.Errorf("no staged content for %v", rec.RelativePath)
			}
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		TreeDir: rtest.TempDir(t),
	})
	rtest.OK(t, err)
	q.handlers[engine.TaskRunPush] = e.RunPush
	q.handlers[engine.TaskBuildDownload] = e.BuildDownload

	proj, err := e.Projects().Create("alice", "demo", "", false, nil)
	rtest.OK(t, err)
	policy.Editors[proj.UID] = []string{"bob"}

	env.e = e
	env.project = proj
	return env
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// stage registers upload content and returns its file record.
func (e *env) stage(path string, data []byte) dawsync.FileRecord {
	e.content[path] = data
	return dawsync.FileRecord{RelativePath: path, Hash: hashOf(data), Size: int64(len(data))}
}

// push submits and runs a push to completion, returning its final state.
func (e *env) push(actor, message string, files []dawsync.FileRecord) *dawsync.Push {
	push, err := e.e.SubmitPush(context.Background(), e.project.UID, actor, message, files)
	rtest.OK(e.t, err)
	rtest.OK(e.t, e.q.Run(e.t))

	got, err := e.e.GetPush(push.UID, actor)
	rtest.OK(e.t, err)
	return got
}

func (e *env) version(uid dawsync.ID) *dawsync.Version {
	v, err := e.e.GetVersion(uid, "alice")
	rtest.OK(e.t, err)
	return v
}

func TestInitialPush(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 1024})

	big := e.stage("song.flp", rtest.Random(1, 2048))
	small := e.stage("readme.txt", []byte("hello world!"))

	push := e.push("alice", "first version", []dawsync.FileRecord{big, small})
	rtest.Equals(t, dawsync.PushDone, push.Status)
	rtest.Equals(t, 100, push.Progress)

	v := e.version(push.Version)
	rtest.Equals(t, 1, v.VersionNumber)
	rtest.Equals(t, 2, v.FilesAdded)
	rtest.Equals(t, 0, v.FilesModified)
	rtest.Equals(t, 0, v.FilesDeleted)
	rtest.Equals(t, false, v.IsSnapshot)
	rtest.Assert(t, v.ManifestRef != "", "manifest must be stored")
	rtest.Equals(t, int64(2048+12), v.FileSize)

	// the big file became a blob with one reference, the small one is inline
	blob, err := e.e.Blobs().Get(big.Hash)
	rtest.OK(t, err)
	rtest.Equals(t, 1, blob.RefCount)

	_, err = e.e.Blobs().Get(small.Hash)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "small file must not become a blob")

	files, err := e.e.ListFiles(context.Background(), v.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, 2, len(files))
}

func TestDuplicatePush(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 1024})

	files := []dawsync.FileRecord{
		e.stage("song.flp", rtest.Random(1, 2048)),
		e.stage("readme.txt", []byte("hello world!")),
	}

	first := e.push("alice", "v1", files)
	second := e.push("alice", "again", files)

	rtest.Equals(t, dawsync.PushDone, second.Status)
	rtest.Equals(t, first.Version, second.Version)
	rtest.Assert(t, second.Message != "", "dedupe message expected")

	versions, err := e.e.ListVersions(e.project.UID, "alice", false)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(versions))

	blob, err := e.e.Blobs().Get(files[0].Hash)
	rtest.OK(t, err)
	rtest.Equals(t, 1, blob.RefCount)
}

func TestModificationPush(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 1024})

	oldSong := e.stage("song.flp", rtest.Random(1, 2048))
	readme := e.stage("readme.txt", []byte("hello world!"))
	first := e.push("alice", "v1", []dawsync.FileRecord{oldSong, readme})

	newSong := e.stage("song.flp", rtest.Random(2, 2048))
	second := e.push("alice", "v2", []dawsync.FileRecord{newSong, readme})

	v2 := e.version(second.Version)
	rtest.Equals(t, 2, v2.VersionNumber)
	rtest.Equals(t, 0, v2.FilesAdded)
	rtest.Equals(t, 1, v2.FilesModified)
	rtest.Equals(t, 0, v2.FilesDeleted)
	rtest.Equals(t, int64(0), v2.SizeChange)
	rtest.Equals(t, e.version(first.Version).UID, v2.PreviousVersion)

	// the old blob stays alive through v1
	oldBlob, err := e.e.Blobs().Get(oldSong.Hash)
	rtest.OK(t, err)
	rtest.Equals(t, 1, oldBlob.RefCount)
	newBlob, err := e.e.Blobs().Get(newSong.Hash)
	rtest.OK(t, err)
	rtest.Equals(t, 1, newBlob.RefCount)
}

func TestDeleteVersionFreesBlobs(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 1024})
	ctx := context.Background()

	oldSong := e.stage("song.flp", rtest.Random(1, 2048))
	first := e.push("alice", "v1", []dawsync.FileRecord{oldSong})

	newSong := e.stage("song.flp", rtest.Random(2, 2048))
	second := e.push("alice", "v2", []dawsync.FileRecord{newSong})

	rtest.OK(t, e.e.DeleteVersion(ctx, first.Version, "alice"))

	_, err := e.e.Blobs().Get(oldSong.Hash)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "v1's blob must be deleted")
	_, err = e.e.Blobs().Get(newSong.Hash)
	rtest.OK(t, err)

	// v2 keeps its number, the next version gets 3
	rtest.Equals(t, 2, e.version(second.Version).VersionNumber)
	third := e.push("alice", "v3", []dawsync.FileRecord{e.stage("song.flp", rtest.Random(3, 2048))})
	rtest.Equals(t, 3, e.version(third.Version).VersionNumber)
}

func TestSnapshotBoundary(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 1024, SnapshotInterval: 3})

	var pushes []*dawsync.Push
	for i := 1; i <= 4; i++ {
		rec := e.stage("song.flp", rtest.Random(i, 2048))
		pushes = append(pushes, e.push("alice", "change", []dawsync.FileRecord{rec}))
	}

	v3 := e.version(pushes[2].Version)
	rtest.Equals(t, 3, v3.VersionNumber)
	rtest.Equals(t, true, v3.IsSnapshot)
	rtest.Equals(t, "", v3.ManifestRef)
	rtest.Assert(t, v3.SnapshotRef != "", "snapshot ref expected")

	ok, err := e.files.Exists(context.Background(), v3.SnapshotRef)
	rtest.OK(t, err)
	rtest.Equals(t, true, ok)

	// no blob references are attributed to the snapshot version
	held, err := e.e.Blobs().HeldBy(e.project.UID, v3.UID)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(held))

	// the following version is a manifest version again
	v4 := e.version(pushes[3].Version)
	rtest.Equals(t, false, v4.IsSnapshot)
	rtest.Assert(t, v4.ManifestRef != "", "manifest ref expected")
}

func TestApprovalReject(t *testing.T) {
	e := newEnv(t, engine.Config{})
	ctx := context.Background()

	e.project.RequirePushApproval = true
	rtest.OK(t, e.e.Projects().Save(e.project))

	rec := e.stage("song.flp", rtest.Random(1, 100))
	push, err := e.e.SubmitPush(ctx, e.project.UID, "bob", "pls", []dawsync.FileRecord{rec})
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushAwaitingApproval, push.Status)
	rtest.Equals(t, 0, len(e.q.jobs))

	// only the owner may reject
	_, err = e.e.RejectPush(ctx, push.UID, "bob", "no")
	rtest.Assert(t, errors.IsKind(err, errors.KindPermissionDenied), "expected PermissionDenied, got %v", err)

	placeholder := push.Version
	rejected, err := e.e.RejectPush(ctx, push.UID, "alice", "no")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushRejected, rejected.Status)
	rtest.Equals(t, "no", rejected.RejectionReason)

	_, err = e.e.GetVersion(placeholder, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "placeholder must be deleted, got %v", err)

	versions, err := e.e.ListVersions(e.project.UID, "alice", true)
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(versions))

	// rejecting twice is an invalid transition
	_, err = e.e.RejectPush(ctx, push.UID, "alice", "again")
	rtest.Assert(t, errors.IsKind(err, errors.KindInvalidState), "expected InvalidState, got %v", err)
}

func TestApprovalApprove(t *testing.T) {
	e := newEnv(t, engine.Config{})
	ctx := context.Background()

	e.project.RequirePushApproval = true
	rtest.OK(t, e.e.Projects().Save(e.project))

	rec := e.stage("song.flp", rtest.Random(1, 100))
	push, err := e.e.SubmitPush(ctx, e.project.UID, "bob", "pls", []dawsync.FileRecord{rec})
	rtest.OK(t, err)

	approved, err := e.e.ApprovePush(ctx, push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushApproved, approved.Status)
	rtest.Equals(t, "alice", approved.ApprovedBy)

	rtest.OK(t, e.q.Run(t))
	got, err := e.e.GetPush(push.UID, "bob")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushDone, got.Status)

	// owners bypass the approval gate
	direct, err := e.e.SubmitPush(ctx, e.project.UID, "alice", "mine", []dawsync.FileRecord{rec})
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushPending, direct.Status)
}

func TestCancelBeforeRun(t *testing.T) {
	e := newEnv(t, engine.Config{})
	ctx := context.Background()

	rec := e.stage("song.flp", rtest.Random(1, 100))
	push, err := e.e.SubmitPush(ctx, e.project.UID, "alice", "wip", []dawsync.FileRecord{rec})
	rtest.OK(t, err)

	cancelled, err := e.e.CancelPush(ctx, push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushCancelled, cancelled.Status)

	_, err = e.e.GetVersion(push.Version, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "placeholder must be deleted, got %v", err)

	// the queued job observes the terminal status and no-ops
	rtest.OK(t, e.q.Run(t))

	_, err = e.e.CancelPush(ctx, push.UID, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindInvalidState), "expected InvalidState, got %v", err)
}

func TestCancelDuringRun(t *testing.T) {
	e := newEnv(t, engine.Config{})
	ctx := context.Background()

	// enough files that a cancel checkpoint fires mid-reconciliation
	var files []dawsync.FileRecord
	for i := 0; i < 25; i++ {
		files = append(files, e.stage(string(rune('a'+i))+".wav", rtest.Random(i, 64)))
	}

	push, err := e.e.SubmitPush(ctx, e.project.UID, "alice", "wip", files)
	rtest.OK(t, err)

	// cancel from within the first content fetch, as a concurrent request
	// would; the worker observes the status at its next checkpoint
	cancelled := false
	e.onFetch = func(dawsync.FileRecord) {
		if cancelled {
			return
		}
		cancelled = true
		_, err := e.e.CancelPush(ctx, push.UID, "alice")
		rtest.OK(t, err)
	}

	rtest.OK(t, e.q.Run(t))

	got, err := e.e.GetPush(push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushCancelled, got.Status)
	_, err = e.e.GetVersion(push.Version, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "placeholder must be gone, got %v", err)
}

func TestCancelStopsEntryHashing(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 32})
	ctx := context.Background()

	var files []dawsync.FileRecord
	for i := 0; i < 25; i++ {
		files = append(files, e.stage(string(rune('a'+i))+".wav", rtest.Random(i, 64)))
	}

	push, err := e.e.SubmitPush(ctx, e.project.UID, "alice", "wip", files)
	rtest.OK(t, err)

	// cancel while the tail of the file list is fetched, past the last
	// reconciliation checkpoint; the worker must still notice before it
	// starts hashing entries into the blob store
	fetches := 0
	e.onFetch = func(dawsync.FileRecord) {
		fetches++
		if fetches != 24 {
			return
		}
		_, err := e.e.CancelPush(ctx, push.UID, "alice")
		rtest.OK(t, err)
	}

	rtest.OK(t, e.q.Run(t))

	got, err := e.e.GetPush(push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushCancelled, got.Status)
	_, err = e.e.GetVersion(push.Version, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "placeholder must be gone, got %v", err)

	for _, rec := range files {
		_, err := e.e.Blobs().Get(rec.Hash)
		rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing),
			"no blob expected for %v after cancel, got %v", rec.RelativePath, err)
	}
}

func TestCancelDuringCommit(t *testing.T) {
	e := newEnv(t, engine.Config{})
	ctx := context.Background()

	rec := e.stage("song.flp", rtest.Random(1, 100))
	push, err := e.e.SubmitPush(ctx, e.project.UID, "alice", "wip", []dawsync.FileRecord{rec})
	rtest.OK(t, err)

	// cancel while the manifest is uploaded; the worker polls once more
	// before acquiring references and removes the uploaded object
	var manifestKey string
	e.onPut = func(key string) {
		manifestKey = key
		_, err := e.e.CancelPush(ctx, push.UID, "alice")
		rtest.OK(t, err)
	}

	rtest.OK(t, e.q.Run(t))

	got, err := e.e.GetPush(push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushCancelled, got.Status)
	_, err = e.e.GetVersion(push.Version, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindNotFound), "placeholder must be gone, got %v", err)

	rtest.Assert(t, manifestKey != "", "manifest upload expected")
	ok, err := e.files.Exists(ctx, manifestKey)
	rtest.OK(t, err)
	rtest.Equals(t, false, ok)
}

func TestHashMismatchFailsPush(t *testing.T) {
	e := newEnv(t, engine.Config{})

	rec := e.stage("song.flp", rtest.Random(1, 100))
	rec.Hash = hashOf([]byte("something else"))

	push, err := e.e.SubmitPush(context.Background(), e.project.UID, "alice", "bad", []dawsync.FileRecord{rec})
	rtest.OK(t, err)
	err = e.q.Run(t)
	rtest.Assert(t, errors.IsKind(err, errors.KindHashMismatch), "expected HashMismatch, got %v", err)

	got, err := e.e.GetPush(push.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.PushFailed, got.Status)
	rtest.Assert(t, got.ErrorDetails != "", "error details expected")

	v, err := e.e.GetVersion(got.Version, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.VersionFailed, v.Status)
}

func TestExactThresholdStaysInline(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 256})

	exact := e.stage("exact.bin", rtest.Random(1, 256))
	over := e.stage("over.bin", rtest.Random(2, 257))

	push := e.push("alice", "sizes", []dawsync.FileRecord{exact, over})
	rtest.Equals(t, dawsync.PushDone, push.Status)

	_, err := e.e.Blobs().Get(exact.Hash)
	rtest.Assert(t, errors.IsKind(err, errors.KindBlobMissing), "threshold-sized file must stay inline")
	_, err = e.e.Blobs().Get(over.Hash)
	rtest.OK(t, err)
}

func TestEmptyFileList(t *testing.T) {
	e := newEnv(t, engine.Config{})

	push := e.push("alice", "empty", nil)
	rtest.Equals(t, dawsync.PushDone, push.Status)

	v := e.version(push.Version)
	rtest.Equals(t, 1, v.VersionNumber)
	rtest.Equals(t, 0, v.FileCount)
	rtest.Equals(t, int64(0), v.FileSize)
}

func TestIgnorePatterns(t *testing.T) {
	e := newEnv(t, engine.Config{})

	e.project.IgnorePatterns = []string{"*.tmp", "Backup"}
	rtest.OK(t, e.e.Projects().Save(e.project))

	keep := e.stage("song.flp", rtest.Random(1, 100))
	files := []dawsync.FileRecord{
		keep,
		{RelativePath: "bounce.tmp", Hash: "aa"},
		{RelativePath: "Backup/old.flp", Hash: "bb"},
	}

	push := e.push("alice", "with junk", files)
	rtest.Equals(t, dawsync.PushDone, push.Status)

	listed, err := e.e.ListFiles(context.Background(), push.Version, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(listed))
	rtest.Equals(t, "song.flp", listed[0].Path)
}

func TestSubmitPermissionDenied(t *testing.T) {
	e := newEnv(t, engine.Config{})

	_, err := e.e.SubmitPush(context.Background(), e.project.UID, "mallory", "hi", nil)
	rtest.Assert(t, errors.IsKind(err, errors.KindPermissionDenied), "expected PermissionDenied, got %v", err)
}

func TestDownloadFlow(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 64, DownloadExpiration: time.Hour})
	ctx := context.Background()

	data := rtest.Random(1, 300)
	push := e.push("alice", "v1", []dawsync.FileRecord{e.stage("song.flp", data)})

	req, err := e.e.RequestDownload(ctx, push.Version, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.DownloadPending, req.Status)

	// a second request before the build coalesces onto the first
	again, err := e.e.RequestDownload(ctx, push.Version, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, req.UID, again.UID)

	rtest.OK(t, e.q.Run(t))

	got, err := e.e.GetDownload(req.UID, "alice")
	rtest.OK(t, err)
	rtest.Equals(t, dawsync.DownloadCompleted, got.Status)
	rtest.Assert(t, got.FileSize > 0, "artifact size expected")
	rtest.Assert(t, got.ExpiresAt.After(e.clock.now), "expiration must be in the future")

	rd, size, err := e.e.FetchArtifact(ctx, req.UID, "alice")
	rtest.OK(t, err)
	buf, err := io.ReadAll(rd)
	rtest.OK(t, err)
	rtest.OK(t, rd.Close())
	rtest.Equals(t, size, int64(len(buf)))
	rtest.Assert(t, bytes.HasPrefix(buf, []byte("PK")), "artifact must be a ZIP")

	// after expiration the sweep removes the artifact
	e.clock.now = e.clock.now.Add(2 * time.Hour)
	n, err := e.e.SweepDownloads(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, 1, n)

	_, _, err = e.e.FetchArtifact(ctx, req.UID, "alice")
	rtest.Assert(t, errors.IsKind(err, errors.KindInvalidState), "expected InvalidState, got %v", err)
}

func TestCheckFindsNoProblems(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 64, SnapshotInterval: 3})

	for i := 1; i <= 3; i++ {
		e.push("alice", "change", []dawsync.FileRecord{e.stage("song.flp", rtest.Random(i, 300))})
	}

	problems, err := e.e.Check(context.Background())
	rtest.OK(t, err)
	rtest.Equals(t, 0, len(problems))

	repaired, err := e.e.RepairBlobRefs()
	rtest.OK(t, err)
	rtest.Equals(t, 0, repaired)
}

func TestRestoreMatchesPushedContent(t *testing.T) {
	e := newEnv(t, engine.Config{CASThresholdBytes: 64})
	ctx := context.Background()

	big := rtest.Random(1, 300)
	small := []byte("tiny")
	push := e.push("alice", "v1", []dawsync.FileRecord{
		e.stage("stems/kick.wav", big),
		e.stage("notes.txt", small),
	})

	target := rtest.TempDir(t)
	stats, err := e.e.RestoreVersion(ctx, push.Version, "alice", target)
	rtest.OK(t, err)
	rtest.Assert(t, stats.Success(), "restore errors: %v", stats.Errors)
	rtest.Equals(t, 2, stats.FilesRestored)
	rtest.Equals(t, int64(len(big)+len(small)), stats.TotalSize)
}
