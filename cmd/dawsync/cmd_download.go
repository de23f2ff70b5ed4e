package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
)

func newDownloadCommand() *cobra.Command {
	var opts DownloadOptions

	cmd := &cobra.Command{
		Use:   "download [flags] version-id",
		Short: "Download a version as a ZIP archive",
		Long: `
The "download" command requests a ZIP artifact of a completed version,
waits for the background build and writes the archive to the output file.
An unexpired artifact from an earlier request by the same user is reused.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), opts, globalOptions, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Output, "output", "o", "", "write the archive to `file` (default: <version-id>.zip)")
	f.BoolVar(&opts.Delete, "delete", false, "delete the artifact from the store after a successful download")

	return cmd
}

// DownloadOptions bundles all options for the 'download' command.
type DownloadOptions struct {
	Output string
	Delete bool
}

func runDownload(ctx context.Context, opts DownloadOptions, gopts GlobalOptions, versionArg string) error {
	actor, err := gopts.actor()
	if err != nil {
		return err
	}
	uid, err := parseIDArg(versionArg, "version")
	if err != nil {
		return err
	}
	output := opts.Output
	if output == "" {
		output = uid.Str() + ".zip"
	}

	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	req, err := ws.Engine.RequestDownload(ctx, uid, actor)
	if err != nil {
		return err
	}
	Verbosef("download request %v\n", req.UID.Str())

	req, err = waitDownload(ctx, ws, req.UID, actor)
	if err != nil {
		return err
	}
	if req.Status != dawsync.DownloadCompleted {
		return errors.Fatalf("download %v failed: %v", req.UID.Str(), req.ErrorDetails)
	}

	rd, size, err := ws.Engine.FetchArtifact(ctx, req.UID, actor)
	if err != nil {
		return err
	}
	defer func() {
		_ = rd.Close()
	}()

	f, err := os.Create(output)
	if err != nil {
		return errors.Wrap(err, "Create")
	}
	n, err := io.Copy(f, rd)
	if err != nil {
		_ = f.Close()
		return errors.Wrap(err, "Copy")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "Close")
	}
	if n != size {
		return errors.Fatalf("artifact is %d bytes, expected %d", n, size)
	}
	Verbosef("wrote %s to %v\n", formatBytes(n), output)

	if opts.Delete {
		if err := ws.Engine.DeleteDownload(ctx, req.UID, actor); err != nil {
			return err
		}
		Verbosef("deleted download %v\n", req.UID.Str())
	}
	return nil
}

// waitDownload polls the request until the build reaches a terminal status.
func waitDownload(ctx context.Context, ws *Workspace, uid dawsync.ID, actor string) (*dawsync.DownloadRequest, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := ws.Engine.GetDownload(uid, actor)
		if err != nil {
			return nil, err
		}
		switch req.Status {
		case dawsync.DownloadCompleted, dawsync.DownloadFailed, dawsync.DownloadExpired:
			return req, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
