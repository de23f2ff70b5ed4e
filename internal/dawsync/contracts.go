package dawsync

import (
	"context"
	"io"
	"time"
)

// Clock abstracts wall-clock time so that expiration logic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// TaskQueue schedules background work with at-least-once semantics. Tasks
// must be idempotent given their payload (a push or download uid).
type TaskQueue interface {
	Enqueue(ctx context.Context, task string, payload string) error
}

// AccessPolicy evaluates a user's capabilities on a project. Identity and
// role management live outside the engine.
type AccessPolicy interface {
	CanEdit(p *Project, user string) bool
	CanView(p *Project, user string) bool
	IsOwner(p *Project, user string) bool
}

// OwnerPolicy is the default policy of the original backend: the owner can do
// everything, everyone listed as an editor can push, viewers can read.
type OwnerPolicy struct {
	Editors map[ID][]string
	Viewers map[ID][]string
}

func (o OwnerPolicy) IsOwner(p *Project, user string) bool {
	return p.Owner == user
}

func (o OwnerPolicy) CanEdit(p *Project, user string) bool {
	if p.Owner == user {
		return true
	}
	for _, u := range o.Editors[p.UID] {
		if u == user {
			return true
		}
	}
	return false
}

func (o OwnerPolicy) CanView(p *Project, user string) bool {
	if o.CanEdit(p, user) {
		return true
	}
	for _, u := range o.Viewers[p.UID] {
		if u == user {
			return true
		}
	}
	return false
}

// ContentSource resolves the raw bytes of an uploaded file record. The upload
// transport is opaque to the engine.
type ContentSource func(rec FileRecord) (io.ReadCloser, error)
