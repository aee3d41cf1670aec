/*
Package main is the mnemo console client.

Usage:

	chat [command]

Available Commands:

	ask      Ask one question and print the full result
	search   Search stored memory
	history  Show recent conversation turns
	clear    Erase all memory on the server
	status   Show server, memory and adapter status
	watch    Follow memory events from the Redis stream

Run without a command for an interactive session.
*/
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	server  string
	timeout time.Duration
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Console client for the mnemo query service",
		Long: `chat sends questions to a running mnemo server and prints the
plan, every capability result and the final answer. Run it without a
command for an interactive session.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := newLineReader(os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			defer lines.Close()
			return runInteractive(cmd.Context(), opts, lines, os.Stdout)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("MNEMO_SERVER", "http://localhost:8000"), "mnemo server URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "request timeout")

	rootCmd.AddCommand(newAskCmd(opts))
	rootCmd.AddCommand(newSearchCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newClearCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
