package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "poem-api",
		Short:         "Poetry Foundation audio episode API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newEpisodesCommand())
	rootCmd.AddCommand(newTargetsCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "poem-api", version)
		},
	})

	return rootCmd
}
