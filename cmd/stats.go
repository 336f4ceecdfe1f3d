package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/onboarding-cli/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show onboarding health for a recent window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitor.LookbackWindowHours
		}

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "collect stats")
		}
		return printJSON(os.Stdout, struct {
			*monitoring.Snapshot
			Alerts []monitoring.Alert `json:"alerts"`
		}{snap, monitoring.NewAlerter(cfg.Monitor).Evaluate(snap)})
	},
}

func init() {
	statsCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(statsCmd)
}
