package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/manifest"
)

func newPushCommand() *cobra.Command {
	var opts PushOptions

	cmd := &cobra.Command{
		Use:   "push [flags] project-id dir",
		Short: "Push a project folder as a new version",
		Long: `
The "push" command uploads the contents of a directory to a project. The
push is processed in the background and either becomes a new numbered
version, resolves onto an existing identical version, or waits for the
owner's approval when the project requires it.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd.Context(), opts, globalOptions, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Message, "message", "m", "", "commit `message` stored with the version")
	f.BoolVar(&opts.NoWait, "no-wait", false, "submit the push and return without waiting for the result")

	return cmd
}

// PushOptions bundles all options for the 'push' command.
type PushOptions struct {
	Message string
	NoWait  bool
}

func runPush(ctx context.Context, opts PushOptions, gopts GlobalOptions, projectArg, dir string) error {
	actor, err := gopts.actor()
	if err != nil {
		return err
	}
	project, err := parseIDArg(projectArg, "project")
	if err != nil {
		return err
	}

	files, err := collectFiles(dir)
	if err != nil {
		return err
	}
	Verbosef("collected %d files from %v\n", len(files), dir)

	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	push, err := ws.Engine.SubmitPush(ctx, project, actor, opts.Message, files)
	if err != nil {
		return err
	}
	Verbosef("submitted push %v\n", push.UID.Str())

	if push.Status == dawsync.PushAwaitingApproval {
		Printf("push %v is awaiting approval by the project owner\n", push.UID.Str())
		return nil
	}
	if opts.NoWait {
		Printf("%v\n", push.UID.Str())
		return nil
	}

	push, err = waitPush(ctx, ws, push.UID, actor)
	if err != nil {
		return err
	}
	return reportPush(gopts, ws, push, actor)
}

// collectFiles walks dir and builds the upload file list. Hashes are computed
// client-side so the worker can verify the content it reads back.
func collectFiles(dir string) ([]dawsync.FileRecord, error) {
	var files []dawsync.FileRecord

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return errors.Wrap(err, "Rel")
		}

		f, err := os.Open(p)
		if err != nil {
			return errors.Wrap(err, "Open")
		}
		hash, size, err := manifest.HashReader(f)
		_ = f.Close()
		if err != nil {
			return err
		}

		files = append(files, dawsync.FileRecord{
			RelativePath: filepath.ToSlash(rel),
			Hash:         hash,
			Size:         size,
			LocalPath:    p,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "WalkDir")
	}
	return files, nil
}

// waitPush polls the push until it reaches a terminal status.
func waitPush(ctx context.Context, ws *Workspace, uid dawsync.ID, actor string) (*dawsync.Push, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastProgress := -1
	for {
		push, err := ws.Engine.GetPush(uid, actor)
		if err != nil {
			return nil, err
		}
		if push.Status.Terminal() {
			return push, nil
		}
		if push.Progress != lastProgress {
			debug.Log("push %v at %d%% (%v)", uid.Str(), push.Progress, push.Message)
			Verbosef("[%3d%%] %v\n", push.Progress, push.Message)
			lastProgress = push.Progress
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func reportPush(gopts GlobalOptions, ws *Workspace, push *dawsync.Push, actor string) error {
	if gopts.JSON {
		return printJSON(push)
	}

	switch push.Status {
	case dawsync.PushDone:
		Printf("%v\n", push.Message)
		if !push.Version.IsNull() {
			v, err := ws.Engine.GetVersion(push.Version, actor)
			if err != nil {
				return err
			}
			Verbosef("version %v: %d files, %d added, %d modified, %d deleted\n",
				v.UID.Str(), v.FileCount, v.FilesAdded, v.FilesModified, v.FilesDeleted)
		}
		return nil
	case dawsync.PushCancelled:
		Printf("push %v was cancelled\n", push.UID.Str())
		return nil
	case dawsync.PushRejected:
		return errors.Fatalf("push %v was rejected: %v", push.UID.Str(), push.RejectionReason)
	default:
		return errors.Fatalf("push %v failed: %v", push.UID.Str(), push.ErrorDetails)
	}
}
