// Package engine orchestrates the version-control workflows on top of the
// storage and repository layers: push ingestion, version management,
// downloads, and maintenance sweeps.
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dawsync/dawsync/internal/cas"
	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/queue"
	"github.com/dawsync/dawsync/internal/repository"
	"github.com/dawsync/dawsync/internal/restorer"
	"github.com/dawsync/dawsync/internal/store"
)

// Task names dispatched through the TaskQueue.
const (
	TaskRunPush       = "run_push"
	TaskBuildDownload = "build_download"
)

// Config tunes the engine. The zero value selects the defaults.
type Config struct {
	// CASThresholdBytes separates inline from CAS storage. Files strictly
	// larger than the threshold go to CAS.
	CASThresholdBytes int64

	// SnapshotInterval stores every Nth completed version as a full snapshot.
	SnapshotInterval int

	// DownloadExpiration is the artifact lifetime of a completed download.
	DownloadExpiration time.Duration

	// BlobSweepInterval paces the periodic orphaned-blob sweep.
	BlobSweepInterval time.Duration

	// MaxChangeDetailEntries bounds each change-detail bucket of a diff.
	MaxChangeDetailEntries int
}

func (c *Config) applyDefaults() {
	if c.CASThresholdBytes <= 0 {
		c.CASThresholdBytes = 1 << 20
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 10
	}
	if c.DownloadExpiration <= 0 {
		c.DownloadExpiration = time.Hour
	}
	if c.BlobSweepInterval <= 0 {
		c.BlobSweepInterval = time.Hour
	}
	if c.MaxChangeDetailEntries <= 0 {
		c.MaxChangeDetailEntries = 50
	}
}

// Engine is the orchestration facade called by the transport layer.
type Engine struct {
	cfg Config

	files     store.FileStore
	blobs     *cas.Store
	projects  *repository.Projects
	versions  *repository.Versions
	pushes    *repository.Pushes
	downloads *repository.Downloads
	restorer  *restorer.Restorer

	queue  dawsync.TaskQueue
	policy dawsync.AccessPolicy
	clock  dawsync.Clock
	source dawsync.ContentSource

	// treeDir holds the per-project master trees
	treeDir string

	// one mutex per project, serializes reconcile and commit
	projLocks *xsync.MapOf[dawsync.ID, *sync.Mutex]
}

// Options collects the engine's collaborators.
type Options struct {
	DB     *meta.DB
	Files  store.FileStore
	Queue  dawsync.TaskQueue
	Policy dawsync.AccessPolicy
	Clock  dawsync.Clock

	// Source resolves upload content; nil selects the default, which reads
	// staging files from the local filesystem or the FileStore.
	Source dawsync.ContentSource

	// TreeDir is the directory holding the per-project master trees.
	TreeDir string
}

// New wires up an engine.
func New(cfg Config, opts Options) (*Engine, error) {
	cfg.applyDefaults()

	if opts.Clock == nil {
		opts.Clock = dawsync.SystemClock()
	}

	blobs := cas.New(opts.Files, opts.DB, opts.Clock)
	versions, err := repository.NewVersions(opts.DB, opts.Files, blobs, opts.Clock)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		files:     opts.Files,
		blobs:     blobs,
		projects:  repository.NewProjects(opts.DB, opts.Clock),
		versions:  versions,
		pushes:    repository.NewPushes(opts.DB, opts.Clock),
		downloads: repository.NewDownloads(opts.DB, opts.Files, opts.Clock),
		queue:     opts.Queue,
		policy:    opts.Policy,
		clock:     opts.Clock,
		source:    opts.Source,
		treeDir:   opts.TreeDir,
		projLocks: xsync.NewMapOf[dawsync.ID, *sync.Mutex](),
	}
	e.restorer = restorer.New(opts.Files, blobs, versions)

	if e.source == nil {
		e.source = e.defaultSource
	}
	return e, nil
}

// RegisterTasks binds the engine's background handlers to q.
func (e *Engine) RegisterTasks(q *queue.Queue) {
	q.Register(TaskRunPush, e.RunPush)
	q.Register(TaskBuildDownload, e.BuildDownload)
}

// Projects exposes the project store for project management commands.
func (e *Engine) Projects() *repository.Projects { return e.projects }

// Blobs exposes the blob store for maintenance commands.
func (e *Engine) Blobs() *cas.Store { return e.blobs }

func (e *Engine) projLock(project dawsync.ID) *sync.Mutex {
	mu, _ := e.projLocks.LoadOrCompute(project, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

func (e *Engine) treePath(project dawsync.ID) string {
	return filepath.Join(e.treeDir, string(project))
}

// defaultSource reads upload content from a staging file on disk or from a
// staged FileStore key.
func (e *Engine) defaultSource(rec dawsync.FileRecord) (io.ReadCloser, error) {
	switch {
	case rec.LocalPath != "":
		f, err := os.Open(rec.LocalPath)
		return f, errors.Wrap(err, "Open")
	case rec.StagingKey != "":
		return e.files.Open(context.Background(), rec.StagingKey)
	}
	return nil, errors.Errorf("file %q carries no content handle", rec.RelativePath)
}

// getProject loads the project and checks view access. Missing and invisible
// projects are indistinguishable to the caller.
func (e *Engine) getProject(uid dawsync.ID, actor string) (*dawsync.Project, error) {
	proj, err := e.projects.Get(uid)
	if err != nil {
		return nil, err
	}
	if !e.policy.CanView(proj, actor) {
		return nil, errors.Kindf(errors.KindNotFound, "project %v not found", uid.Str())
	}
	return proj, nil
}
