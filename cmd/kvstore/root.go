package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kvstore",
	Short: "A durable, replicated in-memory key-value store node",
	Long: `kvstore runs a single node of a sharded, memory-budgeted
key-value store with a write-ahead log, periodic snapshots, and
leader/replica replication.`,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kvstore:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
}
