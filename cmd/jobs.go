package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/onboarding-cli/internal/model"
	"github.com/sells-group/onboarding-cli/internal/store"
)

// -- start --

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start onboarding a website",
	Long:  "Creates a job, scrapes the homepage and runs smart discovery. The job stops at page selection.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		url, _ := cmd.Flags().GetString("url")
		userID, _ := cmd.Flags().GetString("user")

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.StartOnboarding(ctx, url, userID)
		if err != nil {
			return eris.Wrap(err, "start onboarding")
		}
		return printJSON(os.Stdout, job)
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job with its phase data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.GetJobStatus(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job status")
		}
		if job == nil {
			return eris.Errorf("job %s not found", args[0])
		}
		if at, ok := env.Orchestrator.LastActivity(ctx, job.ID); ok {
			fmt.Fprintf(os.Stderr, "last activity: %s\n", at.Format("2006-01-02 15:04:05"))
		}
		return printJSON(os.Stdout, job)
	},
}

// -- list --

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List onboarding jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Orchestrator.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			UserID: userID,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- resume / retry --

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Re-drive an in-progress job from its saved progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.ResumeOnboarding(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resume job")
		}
		return printJSON(os.Stdout, job)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed job from the phase that failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.RetryJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "retry job")
		}
		return printJSON(os.Stdout, job)
	},
}

// -- user decisions --

var selectPagesCmd = &cobra.Command{
	Use:   "select-pages <job-id>",
	Short: "Choose pages for the deep dive and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		urls, _ := cmd.Flags().GetStringSlice("url")

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.SelectPages(ctx, args[0], urls)
		if err != nil {
			return eris.Wrap(err, "select pages")
		}
		return printJSON(os.Stdout, job)
	},
}

var skipPagesCmd = &cobra.Command{
	Use:   "skip-pages <job-id>",
	Short: "Skip page selection and go straight to company review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.SkipPageSelection(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "skip page selection")
		}
		return printJSON(os.Stdout, job)
	},
}

var approveCompanyCmd = &cobra.Command{
	Use:   "approve-company <job-id>",
	Short: "Approve the company info, optionally with edits",
	Long:  "Approves the extracted company info. Edits come from a JSON file (--file) and the --name, --phone, --email and --address flags, flags taking precedence.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		info, err := companyInfoFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orchestrator.ApproveCompany(ctx, args[0], info)
		if err != nil {
			return eris.Wrap(err, "approve company")
		}
		return printJSON(os.Stdout, job)
	},
}

var selectOfferingsCmd = &cobra.Command{
	Use:   "select-offerings <job-id>",
	Short: "Confirm the final offerings and complete the job",
	Long:  "Reads a JSON array of offerings from --file (\"-\" for stdin). Without --file the offerings found by the deep dive are confirmed as they are.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		path, _ := cmd.Flags().GetString("file")
		var offerings []model.Offering
		if path != "" {
			if err := readJSONFile(path, &offerings); err != nil {
				return err
			}
		} else {
			offerings, err = extractedOfferings(cmd, env, args[0])
			if err != nil {
				return err
			}
		}

		job, err := env.Orchestrator.SelectOfferings(ctx, args[0], offerings)
		if err != nil {
			return eris.Wrap(err, "select offerings")
		}
		return printJSON(os.Stdout, job)
	},
}

var offeringsCmd = &cobra.Command{
	Use:   "offerings <job-id>",
	Short: "List the saved offerings of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initOnboarding(ctx, "onboard", false)
		if err != nil {
			return err
		}
		defer env.Close()

		offerings, err := env.Orchestrator.GetOfferings(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list offerings")
		}
		return printJSON(os.Stdout, offerings)
	},
}

func init() {
	startCmd.Flags().String("url", "", "website URL to onboard (required)")
	startCmd.Flags().String("user", "", "id of the user who owns the job")
	_ = startCmd.MarkFlagRequired("url")

	listCmd.Flags().String("status", "", "filter by status (IN_PROGRESS, COMPLETED, FAILED)")
	listCmd.Flags().String("user", "", "filter by user id")
	listCmd.Flags().Int("limit", 50, "max number of jobs to display")

	selectPagesCmd.Flags().StringSlice("url", nil, "page URL to deep dive (repeatable)")
	_ = selectPagesCmd.MarkFlagRequired("url")

	approveCompanyCmd.Flags().String("file", "", "JSON file with company info edits")
	approveCompanyCmd.Flags().String("name", "", "company name")
	approveCompanyCmd.Flags().String("phone", "", "company phone")
	approveCompanyCmd.Flags().String("email", "", "company email")
	approveCompanyCmd.Flags().String("address", "", "company address")

	selectOfferingsCmd.Flags().String("file", "", "JSON file with the final offerings (\"-\" for stdin)")

	for _, c := range []*cobra.Command{
		startCmd, statusCmd, listCmd, resumeCmd, retryCmd,
		selectPagesCmd, skipPagesCmd, approveCompanyCmd, selectOfferingsCmd, offeringsCmd,
	} {
		rootCmd.AddCommand(c)
	}
}

// companyInfoFromFlags merges the --file edits with the individual flags.
func companyInfoFromFlags(cmd *cobra.Command) (model.CompanyInfo, error) {
	var info model.CompanyInfo
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		if err := readJSONFile(path, &info); err != nil {
			return model.CompanyInfo{}, err
		}
	}
	for flag, dst := range map[string]*string{
		"name":    &info.Name,
		"phone":   &info.Phone,
		"email":   &info.Email,
		"address": &info.Address,
	} {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}
	return info, nil
}

// extractedOfferings returns the offerings the deep dive left on the job.
func extractedOfferings(cmd *cobra.Command, env *onboardEnv, jobID string) ([]model.Offering, error) {
	job, err := env.Orchestrator.GetJobStatus(cmd.Context(), jobID)
	if err != nil {
		return nil, eris.Wrap(err, "load job")
	}
	if job == nil {
		return nil, eris.Errorf("job %s not found", jobID)
	}
	var dd model.DeepDiveData
	ok, err := job.PhaseData.Decode(string(model.PhaseBatchDeepDive), &dd)
	if err != nil {
		return nil, eris.Wrap(err, "decode deep dive")
	}
	if !ok {
		return nil, nil
	}
	return dd.Offerings, nil
}

func readJSONFile(path string, v any) error {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tURL\tPHASE\tSTATUS\tUSER\tUPDATED")
	for _, j := range jobs {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		user := j.UserID
		if user == "" {
			user = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, j.URL, j.CurrentPhase, j.Status, user, j.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
