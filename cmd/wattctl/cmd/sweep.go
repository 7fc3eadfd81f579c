package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/wattmon/internal/alerting"
	"github.com/good-yellow-bee/wattmon/internal/watchdog"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one offline-sensor sweep against the database",
	Long: `Check every active sensor once, raising sensor_offline alerts for silent
sensors and resolving them for sensors that report again.

No notifications are sent. Use this when the server's watchdog is disabled
or to inspect sensor state.

Example:
  wattctl sweep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		logger := zerolog.Nop()
		if verbose {
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				With().Timestamp().Logger()
		}

		evaluator := alerting.NewEvaluator(store, alerting.Options{Logger: logger})
		wd := watchdog.New(store, evaluator, watchdog.Options{Logger: logger})

		res, err := wd.Sweep(context.Background())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if GetOutput() == "json" {
			return printJSON(res)
		}

		fmt.Printf("\nChecked:  %d sensor(s)\n", res.Checked)
		fmt.Printf("Online:   %d\n", res.Online)
		fmt.Printf("Offline:  %d\n", res.Offline)
		fmt.Printf("Raised:   %d alert(s)\n", res.Raised)
		fmt.Printf("Resolved: %d alert(s)\n", res.Resolved)
		PrintVerbose("Took %s", res.Duration)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
}
