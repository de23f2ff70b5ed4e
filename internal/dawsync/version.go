package dawsync

import (
	"fmt"
	"time"
)

// VersionStatus is the lifecycle state of a version. Only completed versions
// are visible to collaborators and eligible as parents.
type VersionStatus string

const (
	VersionPending    VersionStatus = "pending"
	VersionProcessing VersionStatus = "processing"
	VersionCompleted  VersionStatus = "completed"
	VersionFailed     VersionStatus = "failed"
)

// ChangeEntry describes one file in a change-detail bucket.
type ChangeEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

// ChangeDetails holds the first entries of each diff bucket, ordered by path.
// A Truncated flag is set when the bucket was clipped.
type ChangeDetails struct {
	Added             []ChangeEntry `json:"added,omitempty"`
	Modified          []ChangeEntry `json:"modified,omitempty"`
	Deleted           []ChangeEntry `json:"deleted,omitempty"`
	AddedTruncated    bool          `json:"added_truncated,omitempty"`
	ModifiedTruncated bool          `json:"modified_truncated,omitempty"`
	DeletedTruncated  bool          `json:"deleted_truncated,omitempty"`
}

// Version is a committed snapshot of a project tree. It is stored either as a
// full ZIP snapshot or as a manifest referencing CAS blobs.
type Version struct {
	UID           ID            `json:"uid"`
	Project       ID            `json:"project"`
	CreatedBy     string        `json:"created_by"`
	CommitMessage string        `json:"commit_message,omitempty"`
	Status        VersionStatus `json:"status"`

	// VersionNumber is assigned on the transition to completed and never
	// changes afterwards, even when earlier versions are deleted.
	VersionNumber int `json:"version_number,omitempty"`

	// Exactly one of SnapshotRef/ManifestRef is set once completed.
	IsSnapshot  bool   `json:"is_snapshot"`
	SnapshotRef string `json:"snapshot_ref,omitempty"`
	ManifestRef string `json:"manifest_ref,omitempty"`

	// Hash is the manifest hash, used for duplicate detection.
	Hash string `json:"hash,omitempty"`

	FileSize  int64 `json:"file_size"`
	FileCount int   `json:"file_count"`

	FilesAdded    int           `json:"files_added"`
	FilesModified int           `json:"files_modified"`
	FilesDeleted  int           `json:"files_deleted"`
	SizeChange    int64         `json:"size_change"`
	ChangeDetails ChangeDetails `json:"change_details,omitempty"`

	PreviousVersion ID `json:"previous_version,omitempty"`

	ErrorDetails string `json:"error_details,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (v *Version) String() string {
	num := fmt.Sprintf("v%d", v.VersionNumber)
	if v.VersionNumber == 0 {
		num = "uid:" + v.UID.Str()
	}
	storage := "cas"
	if v.IsSnapshot {
		storage = "snapshot"
	}
	return fmt.Sprintf("<Version %s %s (%s) [%s]>", num, v.UID.Str(), storage, v.Status)
}

// Ready returns true if the version is completed and usable.
func (v *Version) Ready() bool {
	return v.Status == VersionCompleted
}

// StorageType returns a display label for the storage strategy.
func (v *Version) StorageType() string {
	if v.IsSnapshot {
		return "Full Snapshot"
	}
	return "CAS Manifest"
}
