package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newFilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files [flags] version-id",
		Short: "List the files of a version",
		Long: `
The "files" command prints the per-file metadata of a version. For
manifest versions this includes the content hash and the storage class;
snapshot versions are listed from the archive directory.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFiles(cmd.Context(), globalOptions, args[0])
		},
	}
	return cmd
}

func runFiles(ctx context.Context, gopts GlobalOptions, versionArg string) error {
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

	infos, err := ws.Engine.ListFiles(ctx, uid, actor)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(infos)
	}

	var total int64
	for _, fi := range infos {
		if fi.Hash != "" {
			Printf("%10s  %-7v %v  %v\n", formatBytes(fi.Size), fi.Storage, fi.Hash, fi.Path)
		} else {
			Printf("%10s  %v\n", formatBytes(fi.Size), fi.Path)
		}
		total += fi.Size
	}
	Verbosef("%d files, %s\n", len(infos), formatBytes(total))
	return nil
}
