package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newVersionsCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "versions [flags] project-id",
		Short: "List the versions of a project",
		Long: `
The "versions" command prints the completed versions of a project, newest
first. Versions still being processed are included with --all.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersions(cmd.Context(), globalOptions, args[0], all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also list versions that are not completed")
	return cmd
}

func runVersions(ctx context.Context, gopts GlobalOptions, projectArg string, all bool) error {
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

	versions, err := ws.Engine.ListVersions(project, actor, all)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(versions)
	}

	for _, v := range versions {
		num := "   -"
		if v.VersionNumber > 0 {
			num = formatVersionNumber(v.VersionNumber)
		}
		Printf("%v  %v  %v  %-13v %6d files  %8s  %v\n",
			num, v.UID.Str(), v.CreatedAt.Format(TimeFormat), v.StorageType(),
			v.FileCount, formatBytes(v.FileSize), v.CommitMessage)
	}
	Verbosef("%d versions\n", len(versions))
	return nil
}
