package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [flags] version-id ...",
		Short: "Delete versions",
		Long: `
The "delete" command removes versions from their project. Blobs held only
by the deleted versions are removed with them; version numbers of the
remaining versions do not change. Only the project owner may delete
versions.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), globalOptions, args)
		},
	}
	return cmd
}

func runDelete(ctx context.Context, gopts GlobalOptions, args []string) error {
	actor, err := gopts.actor()
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

	for _, arg := range args {
		uid, err := parseIDArg(arg, "version")
		if err != nil {
			return err
		}
		if err := ws.Engine.DeleteVersion(ctx, uid, actor); err != nil {
			return err
		}
		Verbosef("deleted version %v\n", uid.Str())
	}
	return nil
}
