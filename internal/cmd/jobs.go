package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/jobsync/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage awaited jobs",
	Long: `Inspect and manage the awaited-job registry of a session.

An awaited job is a submitted job whose output has not been fully
retrieved yet. Entries disappear on their own once the scheduler reports the
job killed or canceled, or once the job is discarded.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List awaited jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show one awaited job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsDiscardCmd = &cobra.Command{
	Use:   "discard <job_id>...",
	Short: "Stop tracking jobs",
	Long: `Stop tracking jobs. Their remote data spaces are left untouched.

Discarding a job that is not tracked is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJobsDiscard,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsDiscardCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsShowCmd.Flags().String("format", "json", "Output format: json or yaml")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	ids := s.proxy.AwaitedJobIDs()
	jobs := make([]*jobregistry.AwaitedJob, 0, len(ids))
	for _, id := range ids {
		if j, ok := s.proxy.AwaitedJob(id); ok {
			jobs = append(jobs, j)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No awaited jobs")
		return nil
	}
	return printJobsTable(out, jobs)
}

func printJobsTable(out io.Writer, jobs []*jobregistry.AwaitedJob) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB ID\tMODE\tTASKS\tPENDING\tTRANSFERRING\tSUBMITTED\tPULL URL")
	for _, j := range jobs {
		mode := "manual"
		if j.AutomaticTransfer {
			mode = "auto"
		}
		pending, transferring := 0, 0
		for _, t := range j.Tasks {
			switch {
			case t.Transferring:
				transferring++
			case !t.Transferred:
				pending++
			}
		}
		submitted := "-"
		if !j.SubmittedAt.IsZero() {
			submitted = j.SubmittedAt.Local().Format("2006-01-02 15:04:05")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			j.JobID, mode, len(j.Tasks), pending, transferring, submitted, dash(j.PullURL))
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "json" && format != "yaml" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --format value", fmt.Errorf("format must be json or yaml, got %q", format))
	}

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	job, ok := s.proxy.AwaitedJob(args[0])
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Job is not awaited", errors.New(args[0]))
	}
	return writeJob(cmd.OutOrStdout(), job, format)
}

// writeJob renders job with its persisted (json) field names in either format.
func writeJob(out io.Writer, job *jobregistry.AwaitedJob, format string) error {
	raw, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	if format == "json" {
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func runJobsDiscard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	for _, id := range args {
		if err := s.proxy.DiscardJob(ctx, id); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to discard job", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Discarded %s\n", id)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
