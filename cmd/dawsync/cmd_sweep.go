package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned blobs and expired downloads",
		Long: `
The "sweep" command deletes blob payloads that are no longer referenced by
any version and removes download artifacts whose lifetime has passed.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd.Context(), globalOptions)
		},
	}
	return cmd
}

func runSweep(ctx context.Context, gopts GlobalOptions) error {
	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	stats, err := ws.Engine.SweepBlobs(ctx)
	if err != nil {
		return err
	}
	Verbosef("removed %d orphaned blobs (%s)\n", stats.BlobsDeleted, formatBytes(stats.BytesFreed))

	expired, err := ws.Engine.SweepDownloads(ctx)
	if err != nil {
		return err
	}
	Verbosef("expired %d downloads\n", expired)

	if gopts.JSON {
		return printJSON(struct {
			BlobsDeleted     int   `json:"blobs_deleted"`
			BytesFreed       int64 `json:"bytes_freed"`
			DownloadsExpired int   `json:"downloads_expired"`
		}{stats.BlobsDeleted, stats.BytesFreed, expired})
	}
	return nil
}
