package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new workspace",
		Long: `
The "init" command creates the workspace directory layout: the metadata
store, the file store and the master tree directory.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), globalOptions)
		},
	}
	return cmd
}

func runInit(ctx context.Context, gopts GlobalOptions) error {
	ws, err := InitWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	Verbosef("created dawsync workspace at %v\n", gopts.WorkDir)
	return nil
}
