package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "audinv",
		Short:         "Zero-shot audio editing by DDPM inversion",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newEditCommand())
	rootCmd.AddCommand(newModelsCommand())
	rootCmd.AddCommand(newCompareCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
