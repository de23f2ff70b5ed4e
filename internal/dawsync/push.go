package dawsync

import (
	"fmt"
	"time"
)

// PushStatus is the state of an in-flight ingestion.
type PushStatus string

const (
	PushPending          PushStatus = "pending"
	PushAwaitingApproval PushStatus = "awaiting_approval"
	PushApproved         PushStatus = "approved"
	PushProcessing       PushStatus = "processing"
	PushDone             PushStatus = "done"
	PushFailed           PushStatus = "failed"
	PushRejected         PushStatus = "rejected"
	PushCancelled        PushStatus = "cancelled"
)

// Terminal returns true if no further transitions are allowed from s.
func (s PushStatus) Terminal() bool {
	switch s {
	case PushDone, PushFailed, PushRejected, PushCancelled:
		return true
	}
	return false
}

// Active is the inverse of Terminal.
func (s PushStatus) Active() bool {
	return !s.Terminal()
}

// FileRecord is one entry of the uploaded file list. The content is resolved
// through a ContentSource; the record carries whatever handle the transport
// staged it under.
type FileRecord struct {
	RelativePath string `json:"relative_path"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size,omitempty"`

	// LocalPath points at a staging file on the worker's filesystem.
	LocalPath string `json:"local_path,omitempty"`
	// StagingKey points at a staged upload in the FileStore.
	StagingKey string `json:"staging_key,omitempty"`
}

// Push is an in-flight ingestion workflow. It terminates in a new committed
// version, a mapping to an existing version, or a non-committing terminal
// state.
type Push struct {
	UID           ID           `json:"uid"`
	Project       ID           `json:"project"`
	CreatedBy     string       `json:"created_by"`
	CommitMessage string       `json:"commit_message"`
	FileList      []FileRecord `json:"file_list"`

	Status       PushStatus `json:"status"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message,omitempty"`
	ErrorDetails string     `json:"error_details,omitempty"`

	ApprovedBy      string    `json:"approved_by,omitempty"`
	ApprovedAt      time.Time `json:"approved_at,omitzero"`
	RejectionReason string    `json:"rejection_reason,omitempty"`

	// Version is an owning reference to the placeholder version until the
	// push completes; afterwards it points at the committed version.
	Version ID `json:"version,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

func (p *Push) String() string {
	return fmt.Sprintf("<Push %s project %s [%s]>", p.UID.Str(), p.Project.Str(), p.Status)
}
