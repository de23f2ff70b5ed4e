package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/dawsync"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version [flags] version-id",
		Short: "Show the details of a version",
		Long: `
The "version" command prints the full record of one version, including the
change summary against its predecessor.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), globalOptions, args[0])
		},
	}
	return cmd
}

func runVersion(ctx context.Context, gopts GlobalOptions, versionArg string) error {
	actor, err := gopts.actor()
	if err != nil {
		return err
	}
	uid, err := parseIDArg(versionArg, "version")
	if err != nil {
		return err
	}

	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	v, err := ws.Engine.GetVersion(uid, actor)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(v)
	}

	Printf("version %v (%v)\n", uid.Str(), v.Status)
	if v.VersionNumber > 0 {
		Printf("number:      %d\n", v.VersionNumber)
	}
	Printf("created:     %v by %v\n", v.CreatedAt.Format(TimeFormat), v.CreatedBy)
	if v.CommitMessage != "" {
		Printf("message:     %v\n", v.CommitMessage)
	}
	Printf("storage:     %v\n", v.StorageType())
	Printf("files:       %d (%s)\n", v.FileCount, formatBytes(v.FileSize))
	if !v.PreviousVersion.IsNull() {
		Printf("previous:    %v\n", v.PreviousVersion.Str())
	}
	Printf("changes:     %d added, %d modified, %d deleted (%s)\n",
		v.FilesAdded, v.FilesModified, v.FilesDeleted, formatBytes(v.SizeChange))
	if v.ErrorDetails != "" {
		Printf("error:       %v\n", v.ErrorDetails)
	}

	printChanges("added", v.ChangeDetails.Added, v.ChangeDetails.AddedTruncated)
	printChanges("modified", v.ChangeDetails.Modified, v.ChangeDetails.ModifiedTruncated)
	printChanges("deleted", v.ChangeDetails.Deleted, v.ChangeDetails.DeletedTruncated)
	return nil
}

func printChanges(label string, entries []dawsync.ChangeEntry, truncated bool) {
	if len(entries) == 0 {
		return
	}
	Verbosef("%v:\n", label)
	for _, e := range entries {
		Verbosef("  %v (%s)\n", e.Path, formatBytes(e.Size))
	}
	if truncated {
		Verbosef("  (list truncated)\n")
	}
}
