package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
)

func newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "project",
		Short:             "Manage projects",
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(
		newProjectCreateCommand(),
		newProjectListCommand(),
		newProjectGrantCommand(),
		newProjectRevokeCommand(),
	)
	return cmd
}

// ProjectCreateOptions bundles all options for the 'project create' command.
type ProjectCreateOptions struct {
	Description     string
	RequireApproval bool
	IgnorePatterns  []string
}

func newProjectCreateCommand() *cobra.Command {
	var opts ProjectCreateOptions

	cmd := &cobra.Command{
		Use:   "create [flags] name",
		Short: "Create a new project",
		Long: `
The "project create" command registers a new project owned by the acting
user. Ignore patterns are shell globs pruned from every push.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(cmd.Context(), opts, globalOptions, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Description, "description", "d", "", "project `description`")
	f.BoolVar(&opts.RequireApproval, "require-approval", false, "pushes by non-owners need an explicit approval")
	f.StringArrayVar(&opts.IgnorePatterns, "ignore", nil, "shell `glob` pruned from every push (can be specified multiple times)")

	return cmd
}

func runProjectCreate(ctx context.Context, opts ProjectCreateOptions, gopts GlobalOptions, name string) error {
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

	proj, err := ws.Engine.Projects().Create(actor, name, opts.Description, opts.RequireApproval, opts.IgnorePatterns)
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(proj)
	}
	Verbosef("created project %v\n", proj.Name)
	Printf("%v\n", proj.UID.Str())
	return nil
}

func newProjectListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Long: `
The "project list" command prints all projects of the workspace.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjectList(cmd.Context(), globalOptions)
		},
	}
	return cmd
}

func runProjectList(ctx context.Context, gopts GlobalOptions) error {
	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	projects, err := ws.Engine.Projects().List()
	if err != nil {
		return err
	}

	if gopts.JSON {
		return printJSON(projects)
	}

	for _, proj := range projects {
		flags := make([]string, 0, 2)
		if proj.RequirePushApproval {
			flags = append(flags, "approval")
		}
		if len(proj.IgnorePatterns) > 0 {
			flags = append(flags, "ignores")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		Printf("%v  %-20v owner %v%v\n", proj.UID.Str(), proj.Name, proj.Owner, suffix)
	}
	Verbosef("%d projects\n", len(projects))
	return nil
}

func newProjectGrantCommand() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "grant [flags] project-id user",
		Short: "Grant a user access to a project",
		Long: `
The "project grant" command adds a collaborator to a project. Editors may
push, viewers may read. Only the owner can grant access.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectGrant(cmd.Context(), globalOptions, args[0], args[1], role)
		},
	}
	cmd.Flags().StringVar(&role, "role", "editor", "access `role`, one of (editor|viewer)")
	return cmd
}

func runProjectGrant(ctx context.Context, gopts GlobalOptions, projectArg, user, role string) error {
	return updatePolicy(ctx, gopts, projectArg, func(ws *Workspace, project dawsync.ID) error {
		return ws.policy.grant(project, user, role)
	})
}

func newProjectRevokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke [flags] project-id user",
		Short: "Revoke a user's access to a project",
		Long: `
The "project revoke" command removes a collaborator from a project.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		Args:              cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectRevoke(cmd.Context(), globalOptions, args[0], args[1])
		},
	}
	return cmd
}

func runProjectRevoke(ctx context.Context, gopts GlobalOptions, projectArg, user string) error {
	return updatePolicy(ctx, gopts, projectArg, func(ws *Workspace, project dawsync.ID) error {
		ws.policy.revoke(project, user)
		return nil
	})
}

// updatePolicy runs fn against the loaded policy and persists it. Only the
// project owner may change grants.
func updatePolicy(ctx context.Context, gopts GlobalOptions, projectArg string, fn func(ws *Workspace, project dawsync.ID) error) error {
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

	proj, err := ws.Engine.Projects().Get(project)
	if err != nil {
		return err
	}
	if !ws.policy.IsOwner(proj, actor) {
		return errors.Kindf(errors.KindPermissionDenied, "only the owner may change access to %v", proj.Name)
	}

	if err := fn(ws, project); err != nil {
		return err
	}
	return ws.policy.save(ws.policyPath)
}
