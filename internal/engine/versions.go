package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dawsync/dawsync/internal/archive"
	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
	"github.com/dawsync/dawsync/internal/restorer"
)

// ListVersions returns the project's versions visible to actor, newest
// first. Unfinished versions are included only on request.
func (e *Engine) ListVersions(project dawsync.ID, actor string, includeProcessing bool) ([]*dawsync.Version, error) {
	if _, err := e.getProject(project, actor); err != nil {
		return nil, err
	}
	if includeProcessing {
		return e.versions.ListAll(project)
	}
	return e.versions.ListCompleted(project)
}

// GetVersion returns the full version record with its diff summary.
func (e *Engine) GetVersion(uid dawsync.ID, actor string) (*dawsync.Version, error) {
	v, err := e.versions.Get(uid)
	if err != nil {
		return nil, err
	}
	if _, err := e.getProject(v.Project, actor); err != nil {
		return nil, errors.Kindf(errors.KindNotFound, "version %v not found", uid.Str())
	}
	return v, nil
}

// DeleteVersion removes a version. Owner only; blobs held solely by this
// version are deleted with it.
func (e *Engine) DeleteVersion(ctx context.Context, uid dawsync.ID, actor string) error {
	v, err := e.versions.Get(uid)
	if err != nil {
		return err
	}
	proj, err := e.getProject(v.Project, actor)
	if err != nil {
		return errors.Kindf(errors.KindNotFound, "version %v not found", uid.Str())
	}
	if !e.policy.IsOwner(proj, actor) {
		return errors.Kindf(errors.KindPermissionDenied, "only the owner may delete versions")
	}

	mu := e.projLock(v.Project)
	mu.Lock()
	defer mu.Unlock()
	return e.versions.Delete(ctx, v)
}

// FileInfo is the per-file metadata of a version.
type FileInfo struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Hash    string `json:"hash,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// ListFiles returns the per-file metadata of a version. Manifest versions
// report hash and storage class; snapshot versions are listed from the
// archive directory.
func (e *Engine) ListFiles(ctx context.Context, uid dawsync.ID, actor string) ([]FileInfo, error) {
	v, err := e.GetVersion(uid, actor)
	if err != nil {
		return nil, err
	}

	if !v.IsSnapshot {
		entries, err := e.versions.Manifest(ctx, v)
		if err != nil {
			return nil, err
		}
		infos := make([]FileInfo, 0, len(entries))
		for _, en := range entries {
			infos = append(infos, FileInfo{Path: en.Path, Size: en.Size, Hash: en.Hash, Storage: en.Storage})
		}
		return infos, nil
	}

	rd, err := e.files.Open(ctx, v.SnapshotRef)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot")
	}
	defer func() {
		_ = rd.Close()
	}()

	tmp, err := os.CreateTemp("", "dawsync-listing-")
	if err != nil {
		return nil, errors.Wrap(err, "CreateTemp")
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, rd)
	if err != nil {
		return nil, errors.Wrap(err, "spool snapshot")
	}

	members, err := archive.List(tmp, size)
	if err != nil {
		return nil, err
	}
	infos := make([]FileInfo, 0, len(members))
	for _, m := range members {
		infos = append(infos, FileInfo{Path: m.Path, Size: m.Size})
	}
	return infos, nil
}

// RestoreVersion materializes a version into targetDir on behalf of actor.
func (e *Engine) RestoreVersion(ctx context.Context, uid dawsync.ID, actor, targetDir string) (restorer.Stats, error) {
	v, err := e.GetVersion(uid, actor)
	if err != nil {
		return restorer.Stats{}, err
	}
	return e.restorer.Restore(ctx, v, targetDir)
}

// SweepBlobs removes orphaned blob payloads.
func (e *Engine) SweepBlobs(ctx context.Context) (cas.SweepStats, error) {
	return e.blobs.Sweep(ctx)
}

// Problem is one inconsistency found by Check.
type Problem struct {
	Kind    string
	Subject string
	Detail  string
}

// Check verifies the metadata invariants: version numbering, dedupe index
// integrity, manifest hashes, and blob reachability.
func (e *Engine) Check(ctx context.Context) ([]Problem, error) {
	var problems []Problem

	projects, err := e.projects.List()
	if err != nil {
		return nil, err
	}

	for _, proj := range projects {
		completed, err := e.versions.ListCompleted(proj.UID)
		if err != nil {
			return nil, err
		}

		seen := make(map[int]dawsync.ID)
		hashes := make(map[string]dawsync.ID)
		for _, v := range completed {
			if other, ok := seen[v.VersionNumber]; ok {
				problems = append(problems, Problem{
					Kind:    "duplicate version number",
					Subject: string(v.UID),
					Detail:  fmt.Sprintf("number %d also used by %v", v.VersionNumber, other.Str()),
				})
			}
			seen[v.VersionNumber] = v.UID

			if other, ok := hashes[v.Hash]; ok {
				problems = append(problems, Problem{
					Kind:    "duplicate manifest hash",
					Subject: string(v.UID),
					Detail:  "hash shared with " + other.Str(),
				})
			}
			hashes[v.Hash] = v.UID

			problems = append(problems, e.checkVersion(ctx, v)...)
		}
	}
	return problems, nil
}

// checkVersion verifies one completed version: the stored hash matches its
// manifest and every referenced blob payload is readable.
func (e *Engine) checkVersion(ctx context.Context, v *dawsync.Version) []Problem {
	var problems []Problem

	if v.IsSnapshot {
		if v.SnapshotRef == "" {
			problems = append(problems, Problem{Kind: "missing snapshot ref", Subject: string(v.UID)})
		}
		return problems
	}

	entries, err := e.versions.Manifest(ctx, v)
	if err != nil || entries == nil {
		problems = append(problems, Problem{
			Kind: "unreadable manifest", Subject: string(v.UID),
			Detail: errString(err),
		})
		return problems
	}

	if got := manifest.Hash(entries); got != v.Hash {
		problems = append(problems, Problem{
			Kind: "manifest hash mismatch", Subject: string(v.UID),
			Detail: "stored " + v.Hash + ", computed " + got,
		})
	}

	for _, en := range entries {
		if en.Storage != manifest.StorageCAS {
			continue
		}
		rd, err := e.blobs.Open(ctx, en.BlobID)
		if err != nil {
			problems = append(problems, Problem{
				Kind: "unreadable blob", Subject: en.BlobID,
				Detail: "referenced by " + v.UID.Str() + " at " + en.Path,
			})
			continue
		}
		_ = rd.Close()
	}
	return problems
}

// RepairBlobRefs recomputes blob ref counts from the reference rows.
func (e *Engine) RepairBlobRefs() (int, error) {
	return e.blobs.Reconcile()
}

func errString(err error) string {
	if err == nil {
		return "no manifest"
	}
	return err.Error()
}
