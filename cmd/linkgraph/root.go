package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/linkgraph/internal/log"
)

// NewRootCmd creates the root command for linkgraph.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkgraph",
		Short: "Map the same-origin link graph of a website",
		Long: `linkgraph crawls a website from a seed URL, following only links that stay
on the seed's origin, and reports which pages link to which.

Crawls run concurrently with a bounded number of in-flight requests, stop at
a configurable depth and page quota, and are archived locally so that later
crawls of the same site can be compared.`,
		Version:       currentBuild().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-file", "", "Also write logs to this file (rotated by size)")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagValue looks up a local or inherited flag. Subcommands built on their
// own, as in tests, have no persistent flags and get "".
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := strconv.ParseBool(flagValue(cmd, "verbose"))
	return err == nil && verbose
}

// setupLogger builds the command logger from the persistent flags and makes
// it the default. Close the returned closer when the command ends.
func setupLogger(cmd *cobra.Command) (*slog.Logger, io.Closer) {
	logger, closer := log.NewLogger(log.Options{
		Writer:  cmd.ErrOrStderr(),
		Verbose: getVerboseFlag(cmd),
		File:    flagValue(cmd, "log-file"),
	})
	slog.SetDefault(logger)
	return logger, closer
}
