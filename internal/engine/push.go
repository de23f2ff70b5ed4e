package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/dawsync/dawsync/internal/archive"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/diff"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/ignore"
	"github.com/dawsync/dawsync/internal/manifest"
	"github.com/dawsync/dawsync/internal/mastertree"
	"github.com/dawsync/dawsync/internal/repository"
	"github.com/dawsync/dawsync/internal/store"
)

// cancelCheckInterval is the number of files processed between cancellation
// polls while hashing and storing entries.
const cancelCheckInterval = 10

// SubmitPush validates and registers a push. Approval-gated projects put
// pushes from non-owners into awaiting_approval; everything else is enqueued
// for processing right away.
func (e *Engine) SubmitPush(ctx context.Context, project dawsync.ID, actor, message string, files []dawsync.FileRecord) (*dawsync.Push, error) {
	proj, err := e.projects.Get(project)
	if err != nil {
		return nil, err
	}
	if !e.policy.CanEdit(proj, actor) {
		return nil, errors.Kindf(errors.KindPermissionDenied, "%v may not push to project %v", actor, project.Str())
	}

	// discard records without a usable path
	valid := files[:0]
	for _, f := range files {
		if f.RelativePath == "" {
			continue
		}
		valid = append(valid, f)
	}

	status := dawsync.PushPending
	if proj.RequirePushApproval && !e.policy.IsOwner(proj, actor) {
		status = dawsync.PushAwaitingApproval
	}

	version, err := e.versions.CreatePending(project, actor, message)
	if err != nil {
		return nil, err
	}

	push, err := e.pushes.Create(project, actor, message, valid, status)
	if err != nil {
		return nil, err
	}
	push.Version = version.UID
	if err := e.pushes.Save(push); err != nil {
		return nil, err
	}

	if status == dawsync.PushPending {
		if err := e.queue.Enqueue(ctx, TaskRunPush, string(push.UID)); err != nil {
			return nil, err
		}
	}
	return push, nil
}

// GetPush returns the push state visible to actor.
func (e *Engine) GetPush(uid dawsync.ID, actor string) (*dawsync.Push, error) {
	push, err := e.pushes.Get(uid)
	if err != nil {
		return nil, err
	}
	if _, err := e.getProject(push.Project, actor); err != nil {
		return nil, errors.Kindf(errors.KindNotFound, "push %v not found", uid.Str())
	}
	return push, nil
}

// ApprovePush lets the project owner release an awaiting push into
// processing.
func (e *Engine) ApprovePush(ctx context.Context, uid dawsync.ID, approver string) (*dawsync.Push, error) {
	push, err := e.pushes.Get(uid)
	if err != nil {
		return nil, err
	}
	proj, err := e.projects.Get(push.Project)
	if err != nil {
		return nil, err
	}
	if !e.policy.IsOwner(proj, approver) {
		return nil, errors.Kindf(errors.KindPermissionDenied, "only the owner may approve pushes")
	}
	if push.Status != dawsync.PushAwaitingApproval {
		return nil, errors.Kindf(errors.KindInvalidState, "push %v is %v, not awaiting approval", uid.Str(), push.Status)
	}

	push.Status = dawsync.PushApproved
	push.ApprovedBy = approver
	push.ApprovedAt = e.clock.Now()
	if err := e.pushes.Save(push); err != nil {
		return nil, err
	}

	if err := e.queue.Enqueue(ctx, TaskRunPush, string(push.UID)); err != nil {
		return nil, err
	}
	return push, nil
}

// RejectPush lets the project owner turn down an awaiting push. The
// placeholder version is deleted; it never held blob references.
func (e *Engine) RejectPush(ctx context.Context, uid dawsync.ID, approver, reason string) (*dawsync.Push, error) {
	push, err := e.pushes.Get(uid)
	if err != nil {
		return nil, err
	}
	proj, err := e.projects.Get(push.Project)
	if err != nil {
		return nil, err
	}
	if !e.policy.IsOwner(proj, approver) {
		return nil, errors.Kindf(errors.KindPermissionDenied, "only the owner may reject pushes")
	}
	if push.Status != dawsync.PushAwaitingApproval {
		return nil, errors.Kindf(errors.KindInvalidState, "push %v is %v, not awaiting approval", uid.Str(), push.Status)
	}

	if err := e.dropPlaceholder(ctx, push); err != nil {
		return nil, err
	}

	push.Status = dawsync.PushRejected
	push.RejectionReason = dawsync.SanitizeText(reason)
	push.CompletedAt = e.clock.Now()
	return push, e.pushes.Save(push)
}

// CancelPush aborts a non-terminal push. A worker already processing it
// observes the status at its next checkpoint and compensates.
func (e *Engine) CancelPush(ctx context.Context, uid dawsync.ID, actor string) (*dawsync.Push, error) {
	push, err := e.pushes.Get(uid)
	if err != nil {
		return nil, err
	}
	proj, err := e.projects.Get(push.Project)
	if err != nil {
		return nil, err
	}
	if actor != push.CreatedBy && !e.policy.IsOwner(proj, actor) {
		return nil, errors.Kindf(errors.KindPermissionDenied, "%v may not cancel push %v", actor, uid.Str())
	}
	if push.Status.Terminal() {
		return nil, errors.Kindf(errors.KindInvalidState, "push %v is already %v", uid.Str(), push.Status)
	}

	running := push.Status == dawsync.PushProcessing
	push.Status = dawsync.PushCancelled
	push.CompletedAt = e.clock.Now()
	if err := e.pushes.Save(push); err != nil {
		return nil, err
	}

	// the worker owns cleanup while it is running
	if !running {
		if err := e.dropPlaceholder(ctx, push); err != nil {
			return nil, err
		}
	}
	return push, nil
}

// ListPushes returns the project's pushes visible to actor, newest first.
func (e *Engine) ListPushes(project dawsync.ID, actor string) ([]*dawsync.Push, error) {
	if _, err := e.getProject(project, actor); err != nil {
		return nil, err
	}
	return e.pushes.ListByProject(project)
}

// dropPlaceholder deletes the push's placeholder version if it has not been
// committed. Pushes deduplicated onto an existing version keep it.
func (e *Engine) dropPlaceholder(ctx context.Context, push *dawsync.Push) error {
	if push.Version.IsNull() {
		return nil
	}
	v, err := e.versions.Get(push.Version)
	if errors.IsKind(err, errors.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if v.Status == dawsync.VersionCompleted {
		return nil
	}
	if err := e.versions.Delete(ctx, v); err != nil {
		return err
	}
	push.Version = ""
	return nil
}

// RunPush executes the push workflow. It is the TaskRunPush handler and is
// idempotent for terminal pushes.
func (e *Engine) RunPush(ctx context.Context, payload string) error {
	uid, err := dawsync.ParseID(payload)
	if err != nil {
		return err
	}

	push, err := e.pushes.Get(uid)
	if err != nil {
		return err
	}

	mu := e.projLock(push.Project)
	mu.Lock()
	defer mu.Unlock()

	// reload under the lock, the status may have moved
	push, err = e.pushes.Get(uid)
	if err != nil {
		return err
	}
	if push.Status.Terminal() {
		debug.Log("push %v is already %v, nothing to do", uid.Str(), push.Status)
		return nil
	}

	version, err := e.versions.Get(push.Version)
	if err != nil {
		return err
	}

	push.Status = dawsync.PushProcessing
	if err := e.pushes.Save(push); err != nil {
		return err
	}
	version.Status = dawsync.VersionProcessing
	if err := e.versions.Save(version); err != nil {
		return err
	}

	acquired, err := e.processPush(ctx, push, version)
	if err != nil {
		return e.compensate(ctx, push, version, acquired, err)
	}
	return nil
}

// checkpoint polls for cancellation: context first, then the push status.
func (e *Engine) checkpoint(ctx context.Context, uid dawsync.ID) error {
	if err := ctx.Err(); err != nil {
		return errors.WithKind(err, errors.KindCancelled)
	}
	push, err := e.pushes.Get(uid)
	if err != nil {
		return err
	}
	if push.Status == dawsync.PushCancelled {
		return errors.Kindf(errors.KindCancelled, "push %v was cancelled", uid.Str())
	}
	return nil
}

// processPush runs steps 2..13 of the workflow under the project mutex. It
// returns the blob hashes acquired for the placeholder so a failure can
// release them.
func (e *Engine) processPush(ctx context.Context, push *dawsync.Push, version *dawsync.Version) (acquired []string, err error) {
	proj, err := e.projects.Get(push.Project)
	if err != nil {
		return nil, err
	}

	// prune ignored paths
	matcher := ignore.New(proj.IgnorePatterns)
	files := make([]dawsync.FileRecord, 0, len(push.FileList))
	ignored := 0
	for _, f := range push.FileList {
		if matcher.Match(f.RelativePath) {
			ignored++
			continue
		}
		files = append(files, f)
	}
	if err := e.pushes.SetProgress(push, 15, fmt.Sprintf("Reconciling %d files (%d ignored)", len(files), ignored)); err != nil {
		return nil, err
	}

	tree, err := mastertree.New(e.treePath(push.Project))
	if err != nil {
		return nil, err
	}
	sum, err := tree.Reconcile(files, e.source, func() error {
		return e.checkpoint(ctx, push.UID)
	})
	if err != nil {
		return nil, err
	}
	debug.Log("push %v reconciled: %+v", push.UID.Str(), sum)
	if err := e.pushes.SetProgress(push, 55, "Building manifest"); err != nil {
		return nil, err
	}

	entries, err := e.buildEntries(ctx, push, tree, files)
	if err != nil {
		return nil, err
	}
	if err := e.pushes.SetProgress(push, 60, ""); err != nil {
		return nil, err
	}

	manifestHash := manifest.Hash(entries)

	// duplicate detection: resolve onto the existing version
	existing, err := e.versions.FindCompletedByHash(push.Project, manifestHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := e.dropPlaceholder(ctx, push); err != nil {
			return nil, err
		}
		push.Version = existing.UID
		push.Status = dawsync.PushDone
		push.Progress = 100
		push.Message = fmt.Sprintf("No changes, identical to version %d", existing.VersionNumber)
		push.CompletedAt = e.clock.Now()
		debug.Log("push %v deduplicated onto version %d", push.UID.Str(), existing.VersionNumber)
		return nil, e.pushes.Save(push)
	}
	if err := e.pushes.SetProgress(push, 65, ""); err != nil {
		return nil, err
	}

	// diff against the parent; a snapshot parent has no manifest and counts
	// as no previous version
	parent, err := e.versions.LatestCompleted(push.Project)
	if err != nil {
		return nil, err
	}
	var parentUID dawsync.ID
	var prevEntries []manifest.Entry
	if parent != nil {
		parentUID = parent.UID
		prevEntries, err = e.versions.Manifest(ctx, parent)
		if err != nil {
			return nil, err
		}
	}
	changes := diff.Compute(entries, prevEntries, e.cfg.MaxChangeDetailEntries)
	if err := e.pushes.SetProgress(push, 70, ""); err != nil {
		return nil, err
	}

	if err := e.checkpoint(ctx, push.UID); err != nil {
		return nil, err
	}

	params := repository.CompleteParams{
		Hash:      manifestHash,
		FileCount: len(entries),
		Previous:  parentUID,
		Diff:      changes,
	}

	next, err := e.versions.NextNumber(push.Project)
	if err != nil {
		return nil, err
	}
	if next%e.cfg.SnapshotInterval == 0 {
		params.IsSnapshot = true
		params.SnapshotRef = repository.SnapshotKey(push.Project, version.UID)
		params.FileSize, err = e.storeSnapshot(ctx, tree, params.SnapshotRef)
		if err != nil {
			return nil, err
		}
		if err := e.pushes.SetProgress(push, 90, "Snapshot stored"); err != nil {
			return nil, err
		}
	} else {
		params.ManifestRef = repository.ManifestKey(push.Project, version.UID)
		for _, en := range entries {
			params.FileSize += en.Size
		}
		buf, err := manifest.Encode(entries, e.cfg.CASThresholdBytes, e.clock.Now())
		if err != nil {
			return nil, err
		}
		if _, err := e.files.Put(ctx, params.ManifestRef, bytes.NewReader(buf)); err != nil {
			return nil, err
		}
		if err := e.pushes.SetProgress(push, 80, "Manifest stored"); err != nil {
			return nil, err
		}
	}

	// last cancellation poll before the commit; a cancel landing after this
	// point loses the race and the version completes
	if err := e.checkpoint(ctx, push.UID); err != nil {
		key := params.ManifestRef
		if params.IsSnapshot {
			key = params.SnapshotRef
		}
		if derr := e.files.Delete(context.WithoutCancel(ctx), key); derr != nil && !store.IsNotExist(derr) {
			debug.Log("push %v: removing %v after cancel failed: %v", push.UID.Str(), key, derr)
		}
		return nil, err
	}

	// snapshot versions carry their content in the archive and hold no blob
	// references; blobs staged for them are reclaimed by the sweep
	if !params.IsSnapshot {
		for _, en := range entries {
			if en.Storage != manifest.StorageCAS {
				continue
			}
			if err := e.blobs.Acquire(en.BlobID, version.UID, push.Project); err != nil {
				return acquired, err
			}
			acquired = append(acquired, en.BlobID)
		}
	}

	if err := e.versions.Complete(version, params); err != nil {
		return acquired, err
	}

	push.Status = dawsync.PushDone
	push.Progress = 100
	push.Message = fmt.Sprintf("Created version %d", version.VersionNumber)
	push.CompletedAt = e.clock.Now()
	return acquired, e.pushes.Save(push)
}

// buildEntries hashes every reconciled file and splits them between CAS and
// inline storage at the configured threshold (strictly larger goes to CAS).
// Cancellation is polled between files, so an abort never waits for the whole
// list to be hashed and stored.
func (e *Engine) buildEntries(ctx context.Context, push *dawsync.Push, tree *mastertree.Tree, files []dawsync.FileRecord) ([]manifest.Entry, error) {
	entries := make([]manifest.Entry, 0, len(files))
	for i, f := range files {
		if i%cancelCheckInterval == 0 {
			if err := e.checkpoint(ctx, push.UID); err != nil {
				return nil, err
			}
		}

		hash, size, err := tree.HashFile(f.RelativePath)
		if err != nil {
			return nil, errors.Wrapf(err, "hash %v", f.RelativePath)
		}
		if f.Hash != "" && f.Hash != hash {
			return nil, errors.Kindf(errors.KindHashMismatch,
				"file %v hashed to %v, declared %v", f.RelativePath, hash, f.Hash)
		}

		entry := manifest.Entry{
			Path: manifest.NormalizePath(f.RelativePath),
			Hash: hash,
			Size: size,
		}

		if size > e.cfg.CASThresholdBytes {
			rd, err := tree.Open(f.RelativePath)
			if err != nil {
				return nil, err
			}
			blobID, _, _, err := e.blobs.Store(ctx, rd, hash)
			_ = rd.Close()
			if err != nil {
				return nil, err
			}
			entry.Storage = manifest.StorageCAS
			entry.BlobID = blobID
		} else {
			rd, err := tree.Open(f.RelativePath)
			if err != nil {
				return nil, err
			}
			raw, err := io.ReadAll(rd)
			_ = rd.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "read %v", f.RelativePath)
			}
			entry.Storage = manifest.StorageInline
			entry.Content = base64.StdEncoding.EncodeToString(raw)
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

// storeSnapshot archives the reconciled tree and stores it. Returns the
// archive size.
func (e *Engine) storeSnapshot(ctx context.Context, tree *mastertree.Tree, key string) (int64, error) {
	tmp, err := os.CreateTemp("", "dawsync-snapshot-")
	if err != nil {
		return 0, errors.Wrap(err, "CreateTemp")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, _, err := archive.BuildFromDir(tmp, tree.Root()); err != nil {
		return 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "Seek")
	}
	return e.files.Put(ctx, key, tmp)
}

// compensate rolls a failed or cancelled push back: acquired blobs are
// released and the placeholder version is failed or removed.
func (e *Engine) compensate(ctx context.Context, push *dawsync.Push, version *dawsync.Version, acquired []string, cause error) error {
	debug.Log("push %v compensating after: %v", push.UID.Str(), cause)

	for _, hash := range acquired {
		if err := e.blobs.Release(ctx, hash, version.UID); err != nil {
			debug.Log("release %v failed: %v", hash, err)
		}
	}

	if errors.IsKind(cause, errors.KindCancelled) {
		if err := e.dropPlaceholder(ctx, push); err != nil {
			debug.Log("placeholder cleanup failed: %v", err)
		}
		push.Status = dawsync.PushCancelled
		push.CompletedAt = e.clock.Now()
		return e.pushes.Save(push)
	}

	if err := e.versions.Fail(version, cause.Error()); err != nil {
		debug.Log("marking version failed failed: %v", err)
	}
	push.Status = dawsync.PushFailed
	push.ErrorDetails = dawsync.SanitizeText(cause.Error())
	push.CompletedAt = e.clock.Now()
	if err := e.pushes.Save(push); err != nil {
		return err
	}
	return cause
}
