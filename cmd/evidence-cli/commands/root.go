// Package commands implements the evidence-cli subcommands: list and
// inspect. Neither ever mutates a bundle; list only upserts rows in the
// advisory registry database.
package commands

import (
	"github.com/spf13/cobra"
)

var saveDir string

var rootCmd = &cobra.Command{
	Use:   "evidence-cli",
	Short: "evidence-cli — inspect and register sealed evidence bundles",
	Long:  "Read-only operator tool for evidence bundles: list scans a directory and verifies each bundle; inspect prints one bundle's summary.",
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&saveDir, "save-dir", defaultSaveDir(), "directory containing Evidence_* bundles")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(inspectCmd)
}
