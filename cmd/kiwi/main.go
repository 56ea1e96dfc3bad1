// ABOUTME: CLI entrypoint for kiwi: chat with the generation backend, stream one-off prompts and manage applications.
// ABOUTME: Builds the cobra command tree; every subcommand opens its own session from config.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	envFile string
	verbose bool
}

// newRootCmd assembles the command tree writing to the given streams.
func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "kiwi",
		Short: "Build applications by chatting with the generation backend",
		Long: `kiwi talks to an application generation backend. Every prompt starts a
generation job whose progress streams back until it succeeds, fails or is
cancelled.

Examples:
  kiwi login --user me               # store a session token
  kiwi chat                          # interactive chat for a new application
  kiwi chat --app <id>               # continue an existing application
  kiwi send "build a todo app"       # one prompt, progress on stdout
  kiwi apps list                     # your applications`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Path to a .env file (existing variables win)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Also write log lines to stderr")

	root.AddCommand(
		newChatCmd(flags),
		newSendCmd(flags),
		newHistoryCmd(flags),
		newAppsCmd(flags),
		newCancelCmd(flags),
		newRevertCmd(flags),
		newLoginCmd(flags),
		newLogoutCmd(flags),
		newPreviewCmd(flags),
	)
	return root
}
