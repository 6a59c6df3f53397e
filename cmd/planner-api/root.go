package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "planner-api",
	Short:         "Evidence-gated opportunity board planner",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(importEvidenceCmd)
}
