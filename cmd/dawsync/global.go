package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/engine"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
	"github.com/dawsync/dawsync/internal/queue"
	"github.com/dawsync/dawsync/internal/store"
)

// ErrNoWorkspace is used to report that the workspace directory has not been
// initialized yet.
var ErrNoWorkspace = errors.New("workspace does not exist, run `dawsync init` first")

var version = "0.3.0-dev (compiled manually)"

// TimeFormat is the format used for all timestamps printed by dawsync.
const TimeFormat = "2006-01-02 15:04:05"

// GlobalOptions hold all global options for dawsync.
type GlobalOptions struct {
	WorkDir string
	Actor   string
	Quiet   bool
	JSON    bool
	Workers int

	Store       string
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3NoTLS     bool
	RetryTime   time.Duration
	LimitUpKb   int
	LimitDownKb int

	CASThreshold     int64
	SnapshotInterval int
	DownloadTTL      time.Duration

	stdout io.Writer
	stderr io.Writer
}

var globalOptions = GlobalOptions{
	stdout: os.Stdout,
	stderr: os.Stderr,
}

func (opts *GlobalOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVarP(&opts.WorkDir, "workdir", "w", os.Getenv("DAWSYNC_WORKDIR"), "workspace `directory` holding metadata, file store and master trees (default: $DAWSYNC_WORKDIR)")
	f.StringVarP(&opts.Actor, "actor", "u", os.Getenv("DAWSYNC_ACTOR"), "`name` to act as (default: $DAWSYNC_ACTOR)")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "do not output comprehensive progress report")
	f.BoolVarP(&opts.JSON, "json", "", false, "set output mode to JSON for commands that support it")
	f.IntVar(&opts.Workers, "workers", 2, "`number` of background workers processing pushes and downloads")
	f.StringVar(&opts.Store, "store", "local", "file store backend, one of (local|s3)")
	f.StringVar(&opts.S3Endpoint, "s3-endpoint", os.Getenv("DAWSYNC_S3_ENDPOINT"), "S3 `endpoint` (default: $DAWSYNC_S3_ENDPOINT)")
	f.StringVar(&opts.S3Bucket, "s3-bucket", os.Getenv("DAWSYNC_S3_BUCKET"), "S3 `bucket` (default: $DAWSYNC_S3_BUCKET)")
	f.StringVar(&opts.S3Prefix, "s3-prefix", "", "key `prefix` inside the S3 bucket")
	f.BoolVar(&opts.S3NoTLS, "s3-no-tls", false, "connect to the S3 endpoint without TLS (insecure)")
	f.DurationVar(&opts.RetryTime, "retry-time", 15*time.Minute, "retry failing store operations for up to this `duration`")
	f.IntVar(&opts.LimitUpKb, "limit-upload", 0, "limits store uploads to a maximum `rate` in KiB/s. (default: unlimited)")
	f.IntVar(&opts.LimitDownKb, "limit-download", 0, "limits store downloads to a maximum `rate` in KiB/s. (default: unlimited)")
	f.Int64Var(&opts.CASThreshold, "cas-threshold", 0, "store files strictly larger than `bytes` as content-addressed blobs (default: 1 MiB)")
	f.IntVar(&opts.SnapshotInterval, "snapshot-interval", 0, "store every `n`-th version as a full snapshot (default: 10)")
	f.DurationVar(&opts.DownloadTTL, "download-ttl", 0, "artifact lifetime of a completed download (default: 1h)")
}

// Printf writes the message to the configured stdout stream.
func Printf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stdout, format, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to write to stdout: %v\n", err)
		Exit(100)
	}
}

// Verbosef calls Printf to write the message when the verbose flag is set.
func Verbosef(format string, args ...interface{}) {
	if globalOptions.Quiet {
		return
	}
	Printf(format, args...)
}

// Warnf writes the message to the configured stderr stream.
func Warnf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stderr, format, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to write to stderr: %v\n", err)
		Exit(100)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(globalOptions.stdout)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "Encode")
}

// Workspace bundles the opened stores, the engine and the worker queue of one
// dawsync working directory.
type Workspace struct {
	DB     *meta.DB
	Files  store.FileStore
	Engine *engine.Engine
	Queue  *queue.Queue

	policyPath string
	policy     *filePolicy
}

func (opts *GlobalOptions) workdir() (string, error) {
	if opts.WorkDir == "" {
		return "", errors.Fatal("Please specify a workspace directory (-w or $DAWSYNC_WORKDIR)")
	}
	return opts.WorkDir, nil
}

func metaDir(workdir string) string  { return filepath.Join(workdir, "meta") }
func storeDir(workdir string) string { return filepath.Join(workdir, "store") }
func treeDir(workdir string) string  { return filepath.Join(workdir, "trees") }

// openFileStore builds the FileStore chain: the configured backend wrapped in
// the retry layer and, when limits are set, the bandwidth limiter.
func openFileStore(ctx context.Context, opts GlobalOptions, workdir string) (store.FileStore, error) {
	var (
		be  store.FileStore
		err error
	)
	switch opts.Store {
	case "local":
		be, err = store.OpenLocal(storeDir(workdir))
	case "s3":
		if opts.S3Endpoint == "" || opts.S3Bucket == "" {
			return nil, errors.Fatal("the s3 store needs --s3-endpoint and --s3-bucket")
		}
		be, err = store.OpenS3(ctx, store.S3Config{
			Endpoint:  opts.S3Endpoint,
			Bucket:    opts.S3Bucket,
			Prefix:    opts.S3Prefix,
			AccessKey: os.Getenv("DAWSYNC_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("DAWSYNC_S3_SECRET_KEY"),
			UseTLS:    !opts.S3NoTLS,
		})
	default:
		return nil, errors.Fatalf("unknown store backend %q, expected local or s3", opts.Store)
	}
	if err != nil {
		return nil, err
	}

	be = store.NewRetry(be, opts.RetryTime, func(msg string, err error, d time.Duration) {
		Warnf("%v returned error, retrying after %v: %v\n", msg, d, err)
	})
	if opts.LimitUpKb > 0 || opts.LimitDownKb > 0 {
		debug.Log("rate limiting store to %d KiB/s up, %d KiB/s down", opts.LimitUpKb, opts.LimitDownKb)
		be = store.NewLimited(be, opts.LimitUpKb, opts.LimitDownKb)
	}
	return be, nil
}

// OpenWorkspace opens an initialized workspace and starts the worker queue.
func OpenWorkspace(ctx context.Context, opts GlobalOptions) (*Workspace, error) {
	workdir, err := opts.workdir()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(metaDir(workdir)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoWorkspace
		}
		return nil, errors.Wrap(err, "Stat")
	}
	return openWorkspace(ctx, opts, workdir)
}

// InitWorkspace creates the workspace directories and opens them.
func InitWorkspace(ctx context.Context, opts GlobalOptions) (*Workspace, error) {
	workdir, err := opts.workdir()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(metaDir(workdir)); err == nil {
		return nil, errors.Fatalf("workspace at %v already initialized", workdir)
	}
	for _, dir := range []string{workdir, storeDir(workdir), treeDir(workdir)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "MkdirAll")
		}
	}
	return openWorkspace(ctx, opts, workdir)
}

func openWorkspace(ctx context.Context, opts GlobalOptions, workdir string) (*Workspace, error) {
	debug.Log("open workspace at %v (store %v)", workdir, opts.Store)

	files, err := openFileStore(ctx, opts, workdir)
	if err != nil {
		return nil, err
	}

	db, err := meta.Open(metaDir(workdir))
	if err != nil {
		_ = files.Close()
		return nil, err
	}

	policyPath := filepath.Join(workdir, "policy.json")
	policy, err := loadPolicy(policyPath)
	if err != nil {
		_ = db.Close()
		_ = files.Close()
		return nil, err
	}

	q := queue.New(opts.Workers, 128)
	eng, err := engine.New(engine.Config{
		CASThresholdBytes:  opts.CASThreshold,
		SnapshotInterval:   opts.SnapshotInterval,
		DownloadExpiration: opts.DownloadTTL,
	}, engine.Options{
		DB:      db,
		Files:   files,
		Queue:   q,
		Policy:  policy,
		TreeDir: treeDir(workdir),
	})
	if err != nil {
		_ = q.Shutdown()
		_ = db.Close()
		_ = files.Close()
		return nil, err
	}
	eng.RegisterTasks(q)

	return &Workspace{
		DB:         db,
		Files:      files,
		Engine:     eng,
		Queue:      q,
		policyPath: policyPath,
		policy:     policy,
	}, nil
}

// Close drains the worker queue and releases the stores.
func (ws *Workspace) Close() error {
	debug.Log("closing workspace")
	err := ws.Queue.Shutdown()
	return errors.Join(err, ws.DB.Close(), ws.Files.Close())
}

// Actor returns the configured actor name or an error when none is set.
func (opts *GlobalOptions) actor() (string, error) {
	if opts.Actor == "" {
		return "", errors.Fatal("Please specify who you are (-u or $DAWSYNC_ACTOR)")
	}
	return opts.Actor, nil
}

func parseIDArg(s, what string) (dawsync.ID, error) {
	uid, err := dawsync.ParseID(s)
	if err != nil {
		return "", errors.Fatalf("invalid %v id %q: %v", what, s, err)
	}
	return uid, nil
}
