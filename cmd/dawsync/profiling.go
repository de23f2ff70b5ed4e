package main

import (
	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/dawsync/dawsync/internal/errors"
)

type profiler interface {
	Stop()
}

var (
	memProfilePath string
	cpuProfilePath string

	activeProfiler profiler
)

// registerProfiling adds the profiling flags and wraps the command tree so a
// requested profile spans the whole invocation.
func registerProfiling(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&memProfilePath, "mem-profile", "", "write memory profile to `dir`")
	f.StringVar(&cpuProfilePath, "cpu-profile", "", "write cpu profile to `dir`")

	orig := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		if orig != nil {
			if err := orig(c, args); err != nil {
				return err
			}
		}
		return startProfiler()
	}
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if activeProfiler != nil {
			activeProfiler.Stop()
			activeProfiler = nil
		}
	}
}

func startProfiler() error {
	if memProfilePath != "" && cpuProfilePath != "" {
		return errors.Fatal("only one profile (memory or CPU) may be activated at the same time")
	}

	if memProfilePath != "" {
		activeProfiler = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.MemProfile, profile.ProfilePath(memProfilePath))
	} else if cpuProfilePath != "" {
		activeProfiler = profile.Start(profile.Quiet, profile.NoShutdownHook, profile.CPUProfile, profile.ProfilePath(cpuProfilePath))
	}
	return nil
}
