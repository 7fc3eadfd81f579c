// Package cmd contains the CLI commands for wattctl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Used for flags
	verbose bool
	output  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wattctl",
	Short: "wattctl - WattMon administration tool",
	Long: `wattctl manages a WattMon installation from the command line.

Most commands operate directly on the SQLite database file and are
intended for administrators provisioning users, houses and sensors.
The simulate command talks to a running server over HTTP.

Examples:
  # Create a user who owns houses
  wattctl user create --username alice --email alice@example.com

  # Register a house and a sensor
  wattctl house create --owner alice --name "Main St 4" --price 0.95
  wattctl sensor create --house <house-id> --name kitchen --external-id kitchen-01

  # Run one offline sweep
  wattctl sweep`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
