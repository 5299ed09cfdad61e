package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wohnmap",
	Short: "Map-based address tracker for residential streets",
	Long: `wohnmap serves the address map, the detail drawer with photos and the
favorites list on top of the hosted backend.

Examples:

  wohnmap            # same as "wohnmap serve"
  wohnmap serve
  wohnmap migrate
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func printStep(format string, args ...any) {
	color.New(color.FgGreen, color.Bold).Print("✓ ")
	fmt.Printf(format+"\n", args...)
}
