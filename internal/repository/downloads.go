package repository

import (
	"context"
	"sort"
	"time"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/store"
)

// ArtifactKey returns the FileStore key of a download bundle.
func ArtifactKey(uid dawsync.ID) string {
	return "downloads/" + string(uid) + ".zip"
}

// Downloads stores download request records.
type Downloads struct {
	db    *meta.DB
	files store.FileStore
	clock dawsync.Clock
}

// NewDownloads returns a download store on db.
func NewDownloads(db *meta.DB, files store.FileStore, clock dawsync.Clock) *Downloads {
	if clock == nil {
		clock = dawsync.SystemClock()
	}
	return &Downloads{db: db, files: files, clock: clock}
}

// Create inserts a pending download request for version.
func (ds *Downloads) Create(version dawsync.ID, requestedBy string) (*dawsync.DownloadRequest, error) {
	req := &dawsync.DownloadRequest{
		UID:         dawsync.NewID(),
		Version:     version,
		RequestedBy: requestedBy,
		Status:      dawsync.DownloadPending,
		CreatedAt:   ds.clock.Now(),
	}

	batch := ds.db.NewBatch()
	if err := batch.Set(dlKey(req.UID), req); err != nil {
		return nil, err
	}
	if err := batch.Set(dlverKey(version, req.UID), req.UID); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	debug.Log("created download %v for version %v", req.UID.Str(), version.Str())
	return req, nil
}

// Get loads a download request.
func (ds *Downloads) Get(uid dawsync.ID) (*dawsync.DownloadRequest, error) {
	var req dawsync.DownloadRequest
	if err := ds.db.Get(dlKey(uid), &req); err != nil {
		return nil, notFound(err, "download", uid)
	}
	return &req, nil
}

// Save writes back a modified download request.
func (ds *Downloads) Save(req *dawsync.DownloadRequest) error {
	return ds.db.Set(dlKey(req.UID), req)
}

// FindReusable returns the actor's request for version that is still in
// flight or completed and unexpired, preferring the newest. It returns
// (nil, nil) when no such request exists.
func (ds *Downloads) FindReusable(version dawsync.ID, actor string, now time.Time) (*dawsync.DownloadRequest, error) {
	var candidates []*dawsync.DownloadRequest
	err := ds.db.Scan("dlver/"+string(version)+"/", func(_ string, value []byte) error {
		var uid dawsync.ID
		if err := decode(value, &uid); err != nil {
			return err
		}
		req, err := ds.Get(uid)
		if err != nil {
			return err
		}
		if req.RequestedBy != actor {
			return nil
		}

		switch req.Status {
		case dawsync.DownloadPending, dawsync.DownloadProcessing:
			candidates = append(candidates, req)
		case dawsync.DownloadCompleted:
			if !req.Expired(now) {
				candidates = append(candidates, req)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

// ListExpired returns completed requests whose artifact lifetime has passed.
func (ds *Downloads) ListExpired(now time.Time) ([]*dawsync.DownloadRequest, error) {
	var expired []*dawsync.DownloadRequest
	err := ds.db.Scan("download/", func(_ string, value []byte) error {
		var req dawsync.DownloadRequest
		if err := decode(value, &req); err != nil {
			return err
		}
		if req.Status == dawsync.DownloadCompleted && req.Expired(now) {
			expired = append(expired, &req)
		}
		return nil
	})
	return expired, err
}

// Expire marks the request expired and deletes its artifact.
func (ds *Downloads) Expire(ctx context.Context, req *dawsync.DownloadRequest) error {
	if req.ArtifactRef != "" {
		if err := ds.files.Delete(ctx, req.ArtifactRef); err != nil && !store.IsNotExist(err) {
			return errors.Wrap(err, "delete artifact")
		}
	}
	req.Status = dawsync.DownloadExpired
	req.ArtifactRef = ""
	debug.Log("expired download %v", req.UID.Str())
	return ds.Save(req)
}

// Delete removes the request record and its artifact.
func (ds *Downloads) Delete(ctx context.Context, req *dawsync.DownloadRequest) error {
	if req.ArtifactRef != "" {
		if err := ds.files.Delete(ctx, req.ArtifactRef); err != nil && !store.IsNotExist(err) {
			return errors.Wrap(err, "delete artifact")
		}
	}

	batch := ds.db.NewBatch()
	if err := batch.Delete(dlKey(req.UID)); err != nil {
		return err
	}
	if err := batch.Delete(dlverKey(req.Version, req.UID)); err != nil {
		return err
	}
	return batch.Commit()
}
