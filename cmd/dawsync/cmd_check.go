package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/errors"
)

func newCheckCommand() *cobra.Command {
	var repairRefs bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the workspace for inconsistencies",
		Long: `
The "check" command verifies the metadata invariants of every project:
version numbering, duplicate detection, manifest hashes and blob
reachability. With --repair-refs, blob reference counts are recomputed
from the reference records first.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), globalOptions, repairRefs)
		},
	}
	cmd.Flags().BoolVar(&repairRefs, "repair-refs", false, "recompute blob reference counts before checking")
	return cmd
}

func runCheck(ctx context.Context, gopts GlobalOptions, repairRefs bool) error {
	ws, err := OpenWorkspace(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() {
		_ = ws.Close()
	}()

	if repairRefs {
		repaired, err := ws.Engine.RepairBlobRefs()
		if err != nil {
			return err
		}
		Verbosef("repaired %d blob reference counts\n", repaired)
	}

	problems, err := ws.Engine.Check(ctx)
	if err != nil {
		return err
	}

	if gopts.JSON {
		if err := printJSON(problems); err != nil {
			return err
		}
	} else {
		for _, p := range problems {
			if p.Detail != "" {
				Warnf("%v: %v (%v)\n", p.Kind, p.Subject, p.Detail)
			} else {
				Warnf("%v: %v\n", p.Kind, p.Subject)
			}
		}
	}

	if len(problems) > 0 {
		return errors.Fatalf("found %d problems", len(problems))
	}
	Verbosef("no problems found\n")
	return nil
}
