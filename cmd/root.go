// Package cmd wires the CLI entrypoints.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opsdesk",
	Short: "Multi-tenant support request orchestration core",
	Long:  "OpsDesk orchestrates inbound support intents: tenant resolution, inference, action guarding, and ERP dispatch.",
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
