// Package restorer materializes a completed version into a directory, either
// by extracting its snapshot archive or by replaying its manifest from inline
// content and CAS blobs.
package restorer

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dawsync/dawsync/internal/archive"
	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
	"github.com/dawsync/dawsync/internal/repository"
	"github.com/dawsync/dawsync/internal/store"
)

// FileError records a single file that could not be restored.
type FileError struct {
	Path string
	Err  error
}

// Stats summarizes a restore run. The restore counts as successful iff Errors
// is empty.
type Stats struct {
	FilesRestored int
	TotalSize     int64
	Errors        []FileError
}

// Success returns true if every file was restored.
func (s Stats) Success() bool {
	return len(s.Errors) == 0
}

// Restorer materializes versions.
type Restorer struct {
	files    store.FileStore
	blobs    *cas.Store
	versions *repository.Versions
}

// New returns a restorer.
func New(files store.FileStore, blobs *cas.Store, versions *repository.Versions) *Restorer {
	return &Restorer{files: files, blobs: blobs, versions: versions}
}

// Restore writes the version's tree into targetDir. Per-file failures are
// collected in the returned stats; only setup failures abort the run.
func (r *Restorer) Restore(ctx context.Context, v *dawsync.Version, targetDir string) (Stats, error) {
	if !v.Ready() {
		return Stats{}, errors.Kindf(errors.KindInvalidState, "version %v is %v, not completed", v.UID.Str(), v.Status)
	}
	if err := os.MkdirAll(targetDir, 0700); err != nil {
		return Stats{}, errors.Wrap(err, "MkdirAll")
	}

	if v.IsSnapshot {
		return r.restoreSnapshot(ctx, v, targetDir)
	}
	return r.restoreManifest(ctx, v, targetDir)
}

// restoreSnapshot spools the archive to a temp file and extracts it. The
// FileStore only hands out streams, but ZIP extraction needs random access.
func (r *Restorer) restoreSnapshot(ctx context.Context, v *dawsync.Version, targetDir string) (Stats, error) {
	rd, err := r.files.Open(ctx, v.SnapshotRef)
	if err != nil {
		return Stats{}, errors.Wrap(err, "open snapshot")
	}
	defer func() {
		_ = rd.Close()
	}()

	tmp, err := os.CreateTemp("", "dawsync-snapshot-")
	if err != nil {
		return Stats{}, errors.Wrap(err, "CreateTemp")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, rd)
	if err != nil {
		return Stats{}, errors.Wrap(err, "spool snapshot")
	}

	files, totalSize, err := archive.Extract(tmp, size, targetDir)
	if err != nil {
		return Stats{}, err
	}
	debug.Log("restored version %v from snapshot: %d files", v.UID.Str(), files)
	return Stats{FilesRestored: files, TotalSize: totalSize}, nil
}

func (r *Restorer) restoreManifest(ctx context.Context, v *dawsync.Version, targetDir string) (Stats, error) {
	entries, err := r.versions.Manifest(ctx, v)
	if err != nil {
		return Stats{}, err
	}
	if entries == nil {
		return Stats{}, errors.Kindf(errors.KindManifestCorrupt, "version %v has no manifest", v.UID.Str())
	}

	var stats Stats
	for _, e := range entries {
		n, err := r.restoreEntry(ctx, e, targetDir)
		if err != nil {
			debug.Log("restore %v failed: %v", e.Path, err)
			stats.Errors = append(stats.Errors, FileError{Path: e.Path, Err: err})
			continue
		}
		stats.FilesRestored++
		stats.TotalSize += n
	}

	debug.Log("restored version %v from manifest: %d files, %d errors",
		v.UID.Str(), stats.FilesRestored, len(stats.Errors))
	return stats, nil
}

func (r *Restorer) restoreEntry(ctx context.Context, e manifest.Entry, targetDir string) (int64, error) {
	dest, err := joinChecked(targetDir, e.Path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return 0, errors.Wrap(err, "MkdirAll")
	}

	var src io.Reader
	switch e.Storage {
	case manifest.StorageCAS:
		rd, err := r.blobs.Open(ctx, e.BlobID)
		if err != nil {
			return 0, err
		}
		defer func() {
			_ = rd.Close()
		}()
		src = rd

	case manifest.StorageInline:
		raw, err := base64.StdEncoding.DecodeString(e.Content)
		if err != nil {
			return 0, errors.Wrap(err, "decode inline content")
		}
		src = bytes.NewReader(raw)

	default:
		return 0, errors.Kindf(errors.KindManifestCorrupt, "entry %q has unknown storage class %q", e.Path, e.Storage)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, errors.Wrap(err, "OpenFile")
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "write %v", e.Path)
	}
	return n, nil
}

func joinChecked(dir, rel string) (string, error) {
	rel = manifest.NormalizePath(rel)
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", errors.Errorf("invalid path %q", rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", errors.Errorf("path %q escapes the target", rel)
		}
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}
