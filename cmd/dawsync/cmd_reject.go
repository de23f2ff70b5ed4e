package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRejectCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject [flags] push-id",
		Short: "Reject a pending push",
		Long: `
The "reject" command lets the project owner reject a push that is awaiting
approval. The push's placeholder version is removed and nothing is
committed.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReject(cmd.Context(), globalOptions, args[0], reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "tell the pusher why the push was rejected")
	return cmd
}

func runReject(ctx context.Context, gopts GlobalOptions, pushArg, reason string) error {
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

	push, err := ws.Engine.RejectPush(ctx, uid, actor, reason)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(push)
	}
	Verbosef("rejected push %v\n", push.UID.Str())
	return nil
}
