package engine

import (
	"context"
	"io"
	"os"

	"github.com/dawsync/dawsync/internal/archive"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/repository"
)

// RequestDownload asks for a ZIP artifact of a completed version. An active
// or unexpired request by the same actor is reused instead of building the
// artifact again.
func (e *Engine) RequestDownload(ctx context.Context, version dawsync.ID, actor string) (*dawsync.DownloadRequest, error) {
	v, err := e.versions.Get(version)
	if err != nil {
		return nil, err
	}
	if _, err := e.getProject(v.Project, actor); err != nil {
		return nil, errors.Kindf(errors.KindNotFound, "version %v not found", version.Str())
	}
	if !v.Ready() {
		return nil, errors.Kindf(errors.KindInvalidState, "version %v is %v, not completed", version.Str(), v.Status)
	}

	existing, err := e.downloads.FindReusable(version, actor, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		debug.Log("reusing download %v for version %v", existing.UID.Str(), version.Str())
		return existing, nil
	}

	req, err := e.downloads.Create(version, actor)
	if err != nil {
		return nil, err
	}
	if err := e.queue.Enqueue(ctx, TaskBuildDownload, string(req.UID)); err != nil {
		return nil, err
	}
	return req, nil
}

// GetDownload returns the request state visible to actor.
func (e *Engine) GetDownload(uid dawsync.ID, actor string) (*dawsync.DownloadRequest, error) {
	req, err := e.downloads.Get(uid)
	if err != nil {
		return nil, err
	}
	v, err := e.versions.Get(req.Version)
	if err != nil {
		return nil, err
	}
	if _, err := e.getProject(v.Project, actor); err != nil {
		return nil, errors.Kindf(errors.KindNotFound, "download %v not found", uid.Str())
	}
	return req, nil
}

// FetchArtifact streams a completed, unexpired artifact.
func (e *Engine) FetchArtifact(ctx context.Context, uid dawsync.ID, actor string) (io.ReadCloser, int64, error) {
	req, err := e.GetDownload(uid, actor)
	if err != nil {
		return nil, 0, err
	}
	if req.Status != dawsync.DownloadCompleted {
		return nil, 0, errors.Kindf(errors.KindInvalidState, "download %v is %v, not completed", uid.Str(), req.Status)
	}
	if req.Expired(e.clock.Now()) {
		return nil, 0, errors.Kindf(errors.KindInvalidState, "download %v has expired", uid.Str())
	}

	rd, err := e.files.Open(ctx, req.ArtifactRef)
	if err != nil {
		return nil, 0, err
	}
	return rd, req.FileSize, nil
}

// DeleteDownload removes the requester's artifact ahead of expiration.
func (e *Engine) DeleteDownload(ctx context.Context, uid dawsync.ID, actor string) error {
	req, err := e.GetDownload(uid, actor)
	if err != nil {
		return err
	}
	if req.RequestedBy != actor {
		return errors.Kindf(errors.KindPermissionDenied, "%v may not delete download %v", actor, uid.Str())
	}
	return e.downloads.Delete(ctx, req)
}

// BuildDownload materializes the artifact. It is the TaskBuildDownload
// handler; requests already past pending are left alone.
func (e *Engine) BuildDownload(ctx context.Context, payload string) error {
	uid, err := dawsync.ParseID(payload)
	if err != nil {
		return err
	}
	req, err := e.downloads.Get(uid)
	if err != nil {
		return err
	}
	if req.Status != dawsync.DownloadPending {
		debug.Log("download %v is %v, nothing to do", uid.Str(), req.Status)
		return nil
	}

	req.Status = dawsync.DownloadProcessing
	req.Progress = 10
	if err := e.downloads.Save(req); err != nil {
		return err
	}

	if err := e.buildArtifact(ctx, req); err != nil {
		req.Status = dawsync.DownloadFailed
		req.ErrorDetails = dawsync.SanitizeText(err.Error())
		if serr := e.downloads.Save(req); serr != nil {
			return serr
		}
		return err
	}
	return nil
}

func (e *Engine) buildArtifact(ctx context.Context, req *dawsync.DownloadRequest) error {
	v, err := e.versions.Get(req.Version)
	if err != nil {
		return err
	}

	key := repository.ArtifactKey(req.UID)
	var size int64

	if v.IsSnapshot {
		// the snapshot already is the wanted ZIP
		rd, err := e.files.Open(ctx, v.SnapshotRef)
		if err != nil {
			return errors.Wrap(err, "open snapshot")
		}
		size, err = e.files.Put(ctx, key, rd)
		_ = rd.Close()
		if err != nil {
			return err
		}
	} else {
		size, err = e.buildFromManifest(ctx, v, key)
		if err != nil {
			return err
		}
	}

	now := e.clock.Now()
	req.Status = dawsync.DownloadCompleted
	req.Progress = 100
	req.ArtifactRef = key
	req.FileSize = size
	req.CompletedAt = now
	req.ExpiresAt = now.Add(e.cfg.DownloadExpiration)
	debug.Log("built download %v (%d bytes, expires %v)", req.UID.Str(), size, req.ExpiresAt)
	return e.downloads.Save(req)
}

// buildFromManifest restores the version into a scratch directory, archives
// it, and stores the archive.
func (e *Engine) buildFromManifest(ctx context.Context, v *dawsync.Version, key string) (int64, error) {
	tmpDir, err := os.MkdirTemp("", "dawsync-download-")
	if err != nil {
		return 0, errors.Wrap(err, "MkdirTemp")
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	stats, err := e.restorer.Restore(ctx, v, tmpDir)
	if err != nil {
		return 0, err
	}
	if !stats.Success() {
		return 0, errors.Errorf("restore failed for %d files, first: %v %v",
			len(stats.Errors), stats.Errors[0].Path, stats.Errors[0].Err)
	}

	tmp, err := os.CreateTemp("", "dawsync-artifact-")
	if err != nil {
		return 0, errors.Wrap(err, "CreateTemp")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, _, err := archive.BuildFromDir(tmp, tmpDir); err != nil {
		return 0, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "Seek")
	}
	return e.files.Put(ctx, key, tmp)
}

// SweepDownloads expires completed requests whose artifact lifetime has
// passed and deletes their artifacts.
func (e *Engine) SweepDownloads(ctx context.Context) (int, error) {
	expired, err := e.downloads.ListExpired(e.clock.Now())
	if err != nil {
		return 0, err
	}
	for i, req := range expired {
		if err := e.downloads.Expire(ctx, req); err != nil {
			return i, err
		}
	}
	return len(expired), nil
}
