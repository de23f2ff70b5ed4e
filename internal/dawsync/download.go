package dawsync

import (
	"fmt"
	"time"
)

// DownloadStatus is the state of a materialization job.
type DownloadStatus string

const (
	DownloadPending    DownloadStatus = "pending"
	DownloadProcessing DownloadStatus = "processing"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"
	DownloadExpired    DownloadStatus = "expired"
)

// DownloadRequest materializes a version into a time-bounded ZIP artifact.
type DownloadRequest struct {
	UID         ID             `json:"uid"`
	Version     ID             `json:"version"`
	RequestedBy string         `json:"requested_by"`
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message,omitempty"`

	// ArtifactRef is the FileStore key of the produced ZIP.
	ArtifactRef  string `json:"artifact_ref,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

func (d *DownloadRequest) String() string {
	return fmt.Sprintf("<Download %s version %s [%s]>", d.UID.Str(), d.Version.Str(), d.Status)
}

// Expired returns true once the artifact's lifetime has passed.
func (d *DownloadRequest) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(now)
}

// TimeRemaining returns the remaining artifact lifetime, zero when expired or
// not completed.
func (d *DownloadRequest) TimeRemaining(now time.Time) time.Duration {
	if d.Status != DownloadCompleted || d.ExpiresAt.IsZero() {
		return 0
	}
	remaining := d.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
