package repository

import (
	"sort"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/meta"
)

// Pushes stores push records.
type Pushes struct {
	db    *meta.DB
	clock dawsync.Clock
}

// NewPushes returns a push store on db.
func NewPushes(db *meta.DB, clock dawsync.Clock) *Pushes {
	if clock == nil {
		clock = dawsync.SystemClock()
	}
	return &Pushes{db: db, clock: clock}
}

// Create inserts a new push in the given initial status.
func (ps *Pushes) Create(project dawsync.ID, actor, message string, files []dawsync.FileRecord, status dawsync.PushStatus) (*dawsync.Push, error) {
	push := &dawsync.Push{
		UID:           dawsync.NewID(),
		Project:       project,
		CreatedBy:     actor,
		CommitMessage: dawsync.SanitizeText(message),
		FileList:      files,
		Status:        status,
		CreatedAt:     ps.clock.Now(),
	}

	batch := ps.db.NewBatch()
	if err := batch.Set(pushKey(push.UID), push); err != nil {
		return nil, err
	}
	if err := batch.Set(pushprojKey(project, push.UID), push.UID); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	debug.Log("created push %v [%v] with %d files", push.UID.Str(), status, len(files))
	return push, nil
}

// Get loads a push.
func (ps *Pushes) Get(uid dawsync.ID) (*dawsync.Push, error) {
	var push dawsync.Push
	if err := ps.db.Get(pushKey(uid), &push); err != nil {
		return nil, notFound(err, "push", uid)
	}
	return &push, nil
}

// Save writes back a modified push record.
func (ps *Pushes) Save(push *dawsync.Push) error {
	return ps.db.Set(pushKey(push.UID), push)
}

// SetProgress updates the progress percentage and optional message.
func (ps *Pushes) SetProgress(push *dawsync.Push, progress int, message string) error {
	push.Progress = progress
	if message != "" {
		push.Message = message
	}
	return ps.Save(push)
}

// ListByProject returns the pushes of a project, newest first.
func (ps *Pushes) ListByProject(project dawsync.ID) ([]*dawsync.Push, error) {
	var pushes []*dawsync.Push
	err := ps.db.Scan("pushproj/"+string(project)+"/", func(_ string, value []byte) error {
		var uid dawsync.ID
		if err := decode(value, &uid); err != nil {
			return err
		}
		push, err := ps.Get(uid)
		if err != nil {
			return err
		}
		pushes = append(pushes, push)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pushes, func(i, j int) bool {
		return pushes[i].CreatedAt.After(pushes[j].CreatedAt)
	})
	return pushes, nil
}

// Delete removes a push record. Used when a rejected submission is pruned.
func (ps *Pushes) Delete(push *dawsync.Push) error {
	batch := ps.db.NewBatch()
	if err := batch.Delete(pushKey(push.UID)); err != nil {
		return err
	}
	if err := batch.Delete(pushprojKey(push.Project, push.UID)); err != nil {
		return err
	}
	return batch.Commit()
}
