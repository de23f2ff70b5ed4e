package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newApproveCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "approve [flags] push-id",
		Short: "Approve a pending push",
		Long: `
The "approve" command lets the project owner approve a push that is
awaiting approval, which schedules it for processing.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(cmd.Context(), globalOptions, args[0], wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the approved push to finish processing")
	return cmd
}

func runApprove(ctx context.Context, gopts GlobalOptions, pushArg string, wait bool) error {
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

	push, err := ws.Engine.ApprovePush(ctx, uid, actor)
	if err != nil {
		return err
	}
	Verbosef("approved push %v\n", push.UID.Str())

	if !wait {
		if gopts.JSON {
			return printJSON(push)
		}
		return nil
	}

	push, err = waitPush(ctx, ws, push.UID, actor)
	if err != nil {
		return err
	}
	return reportPush(gopts, ws, push, actor)
}
