package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/observability"
	"github.com/3leaps/jobsync/pkg/output"
	"github.com/3leaps/jobsync/pkg/proxy"
	"github.com/3leaps/jobsync/pkg/scheduler"
)

var pullCmd = &cobra.Command{
	Use:   "pull <job_id> [task_name...]",
	Short: "Download task output of a manual-transfer job",
	Long: `Download the output of one or more tasks of an awaited job from its
pull data space.

Only jobs submitted without automatic transfer can be pulled. With no task
names, every task whose output has not been retrieved yet is pulled.

Examples:
  # Pull one task into the job's local output folder
  jobsync pull 1234 render_0

  # Pull everything pending into another folder
  jobsync pull 1234 --to ./results

  # Journal transfer records as JSONL on stdout
  jobsync pull 1234 --journal -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().String("to", "", "Local folder (default: the job's local output folder)")
	pullCmd.Flags().String("journal", "", "Append transfer records as JSONL to this file (- for stdout)")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	to, _ := cmd.Flags().GetString("to")
	jobID := args[0]

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	// Status lines move to stderr when the journal owns stdout.
	status := cmd.OutOrStdout()
	journal, _ := cmd.Flags().GetString("journal")
	if journal == "-" {
		status = cmd.ErrOrStderr()
	}
	if journal != "" {
		w, closeFn, err := openJournal(cmd, journal)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot open journal", err)
		}
		defer closeFn()
		jw := output.NewJSONLWriter(w, s.proxy.SessionName())
		defer func() { _ = jw.Close() }()
		s.proxy.AddEventListener(jw)
	}

	tasks := args[1:]
	if len(tasks) == 0 {
		job, ok := s.proxy.AwaitedJob(jobID)
		if !ok {
			return pullError(jobID, "", fmt.Errorf("job %s: %w", jobID, scheduler.ErrUnknownJob))
		}
		for _, name := range job.TaskNames() {
			if !job.Task(name).Transferred {
				tasks = append(tasks, name)
			}
		}
		if len(tasks) == 0 {
			_, _ = fmt.Fprintf(status, "Nothing to pull for job %s\n", jobID)
			return nil
		}
	}

	for _, name := range tasks {
		if err := s.proxy.PullData(ctx, jobID, name, to); err != nil {
			return pullError(jobID, name, err)
		}
		_, _ = fmt.Fprintf(status, "Pulled %s/%s\n", jobID, name)
	}
	return nil
}

func openJournal(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func pullError(jobID, taskName string, err error) error {
	observability.CLILogger.Debug("Pull failed",
		zap.String("job_id", jobID),
		zap.String("task_name", taskName),
		zap.Error(err))

	switch {
	case errors.Is(err, context.Canceled):
		return exitError(foundry.ExitSignalInt, "Pull cancelled", err)
	case errors.Is(err, scheduler.ErrUnknownJob), errors.Is(err, scheduler.ErrUnknownTask):
		return exitError(foundry.ExitInvalidArgument, "Not awaited", err)
	case errors.Is(err, proxy.ErrAutomaticTransfer):
		return exitError(foundry.ExitInvalidArgument, "Job uses automatic transfer", err)
	case errors.Is(err, proxy.ErrTransferInProgress):
		return exitError(foundry.ExitInvalidArgument, "Transfer already running", err)
	case errors.Is(err, proxy.ErrInvalidOptions):
		return exitError(foundry.ExitInvalidArgument, "Cannot pull", err)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Pull failed", err)
	}
}
