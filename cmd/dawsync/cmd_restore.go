package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/errors"
)

func newRestoreCommand() *cobra.Command {
	var opts RestoreOptions

	cmd := &cobra.Command{
		Use:   "restore [flags] version-id",
		Short: "Restore a version into a directory",
		Long: `
The "restore" command materializes the file tree of a completed version
into the target directory.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), opts, globalOptions, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Target, "target", "t", "", "directory to extract data to")

	return cmd
}

// RestoreOptions bundles all options for the 'restore' command.
type RestoreOptions struct {
	Target string
}

func runRestore(ctx context.Context, opts RestoreOptions, gopts GlobalOptions, versionArg string) error {
	if opts.Target == "" {
		return errors.Fatal("please specify a directory to restore to (--target)")
	}
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

	stats, err := ws.Engine.RestoreVersion(ctx, uid, actor, opts.Target)
	if err != nil {
		return err
	}

	for _, fe := range stats.Errors {
		Warnf("could not restore %v: %v\n", fe.Path, fe.Err)
	}
	Verbosef("restored %d files (%s) to %v\n", stats.FilesRestored, formatBytes(stats.TotalSize), opts.Target)

	if !stats.Success() {
		return errors.Fatalf("there were %d errors during restore", len(stats.Errors))
	}
	return nil
}
