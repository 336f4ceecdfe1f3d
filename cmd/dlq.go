package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/onboarding-cli/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry failed jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		errType, _ := cmd.Flags().GetString("type")
		due, _ := cmd.Flags().GetBool("due")
		limit, _ := cmd.Flags().GetInt("limit")

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Due: due, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Retry due jobs that failed with a transient error",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.DLQ.SweepLimit
		}

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.SweepDLQ(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "dlq sweep")
		}
		zap.L().Info("dlq sweep complete",
			zap.Int("retried", res.Retried),
			zap.Int("recovered", res.Recovered),
			zap.Int("exhausted", res.Exhausted),
		)
		return printJSON(os.Stdout, res)
	},
}

func init() {
	dlqListCmd.Flags().String("type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().Bool("due", false, "only entries ready for another attempt")
	dlqListCmd.Flags().Int("limit", 50, "max number of entries to display")

	dlqSweepCmd.Flags().Int("limit", 0, "max jobs to retry (default from config)")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqSweepCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatDLQList writes a tabular list of DLQ entries to out.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tURL\tPHASE\tTYPE\tKIND\tRETRIES\tNEXT_RETRY")
	for _, e := range entries {
		id := e.JobID
		if len(id) > 8 {
			id = id[:8]
		}
		next := "-"
		if e.Sweepable() {
			next = e.NextRetryAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			id, e.URL, e.FailedPhase, e.ErrorType, e.ErrorKind, e.RetryCount, e.MaxRetries, next)
	}
	_ = w.Flush()
}
