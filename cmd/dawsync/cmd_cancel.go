package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [flags] push-id",
		Short: "Cancel an in-flight push",
		Long: `
The "cancel" command aborts a push that has not finished yet. A push that
is already being processed stops at the next checkpoint; its placeholder
version is removed.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd.Context(), globalOptions, args[0])
		},
	}
	return cmd
}

func runCancel(ctx context.Context, gopts GlobalOptions, pushArg string) error {
	actor, err := gopts.actor()
	if err != nil {
		return err
	}
	uid, err := parseIDArg(pushArg, "push")
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

	push, err := ws.Engine.CancelPush(ctx, uid, actor)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(push)
	}
	Verbosef("cancelled push %v\n", push.UID.Str())
	return nil
}
