package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/errors"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dawsync",
		Short: "Version control for DAW project folders",
		Long: `
dawsync keeps the revision history of digital audio workstation project
folders: pushes become immutable numbered versions, stored either as
content-addressed manifests or as periodic full snapshots.
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	globalOptions.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newApproveCommand(),
		newCancelCommand(),
		newCheckCommand(),
		newDeleteCommand(),
		newDownloadCommand(),
		newFilesCommand(),
		newInitCommand(),
		newProjectCommand(),
		newPushCommand(),
		newPushesCommand(),
		newRejectCommand(),
		newRestoreCommand(),
		newSweepCommand(),
		newVersionCommand(),
		newVersionsCommand(),
	)

	registerProfiling(cmd)

	return cmd
}

func createGlobalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 1)
	go cleanupHandler(ch, cancel)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	return ctx
}

// cleanupHandler handles the SIGINT and SIGTERM signals.
func cleanupHandler(c <-chan os.Signal, cancel context.CancelFunc) {
	s := <-c
	debug.Log("signal %v received, cleaning up", s)
	Warnf("signal %v received, cleaning up\n", s)
	cancel()
}

// Exit terminates the process with the given exit code.
func Exit(code int) {
	debug.Log("exiting with status code %d", code)
	os.Exit(code)
}

func printExitError(code int, message string) {
	if globalOptions.JSON {
		type jsonExitError struct {
			MessageType string `json:"message_type"` // exit_error
			Code        int    `json:"code"`
			Message     string `json:"message"`
		}

		jsonS := jsonExitError{
			MessageType: "exit_error",
			Code:        code,
			Message:     message,
		}

		err := json.NewEncoder(globalOptions.stderr).Encode(jsonS)
		if err != nil {
			Warnf("JSON encode failed: %v\n", err)
			return
		}
	} else {
		_, _ = fmt.Fprintf(globalOptions.stderr, "%v\n", message)
	}
}

func main() {
	debug.Log("main %#v", os.Args)
	debug.Log("dawsync %s compiled with %v on %v/%v",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext()
	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		err = ctx.Err()
	}

	var exitMessage string
	switch {
	case errors.Is(err, ErrNoWorkspace):
		exitMessage = fmt.Sprintf("Fatal: %v", err)
	case errors.IsFatal(err):
		exitMessage = err.Error()
	case err != nil:
		exitMessage = fmt.Sprintf("%+v", err)
	}

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.Is(err, ErrNoWorkspace):
		exitCode = 10
	case errors.IsKind(err, errors.KindNotFound):
		exitCode = 12
	case errors.IsKind(err, errors.KindPermissionDenied):
		exitCode = 13
	case errors.Is(err, context.Canceled):
		exitCode = 130
	default:
		exitCode = 1
	}

	if exitCode != 0 {
		printExitError(exitCode, exitMessage)
	}
	Exit(exitCode)
}
