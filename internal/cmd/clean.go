package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the awaited-job registry of a session",
	Long: `Delete every registry file of the selected session and start over with
an empty registry. Other sessions are not touched. Remote data spaces are
left as they are.`,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().Bool("yes", false, "Confirm deletion")
}

func runClean(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return exitError(foundry.ExitInvalidArgument, "Refusing to clean without --yes", errors.New("confirmation required"))
	}

	s, err := openSession(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(ctx) }()

	dropped := len(s.proxy.AwaitedJobIDs())
	if err := s.proxy.CleanDatabase(ctx); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to clean registry", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %s cleaned (%d jobs dropped)\n", s.proxy.SessionName(), dropped)
	return nil
}
