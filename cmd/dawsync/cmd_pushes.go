package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newPushesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pushes [flags] project-id",
		Short: "List the pushes of a project",
		Long: `
The "pushes" command prints the pushes of a project, newest first,
including in-flight and terminal ones.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPushes(cmd.Context(), globalOptions, args[0])
		},
	}
	return cmd
}

func runPushes(ctx context.Context, gopts GlobalOptions, projectArg string) error {
	actor, err := gopts.actor()
	if err != nil {
		return err
	}
	project, err := parseIDArg(projectArg, "project")
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

	pushes, err := ws.Engine.ListPushes(project, actor)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(pushes)
	}

	for _, p := range pushes {
		msg := p.Message
		if msg == "" {
			msg = p.CommitMessage
		}
		Printf("%v  %v  %-17v by %-10v %v\n",
			p.UID.Str(), p.CreatedAt.Format(TimeFormat), p.Status, p.CreatedBy, msg)
	}
	Verbosef("%d pushes\n", len(pushes))
	return nil
}
