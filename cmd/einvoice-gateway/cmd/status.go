package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusWait    bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <local-id>",
	Short: "Show or resume polling a tracked submission",
	Long: `Show the tracked state of a submission by its local id.

With --wait the command resumes polling the authority until the invoice
reaches a terminal status. This works for submissions whose earlier wait
timed out: polling continues under the same authority reference number.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "Resume polling until a verdict")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 2*time.Minute, "How long to wait for a verdict")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer client.Close(ctx)

	localID := args[0]
	if statusWait {
		sub, err := client.AwaitOutcome(ctx, localID, statusTimeout)
		if err != nil {
			printSubmission(sub)
			return err
		}
		printSubmission(sub)
		return nil
	}

	sub, err := client.GetSubmissionStatus(localID)
	if err != nil {
		return err
	}
	printSubmission(sub)
	return nil
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List all tracked submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		subs := client.Submissions()
		if outputFormat == "table" {
			fmt.Printf("%-36s %-24s %-12s %s\n", "LOCAL ID", "REFERENCE", "STATUS", "SUBMITTED")
			for _, sub := range subs {
				fmt.Printf("%-36s %-24s %-12s %s\n",
					sub.LocalID, sub.AuthorityReferenceNumber, sub.Status,
					sub.SubmittedAt.Format(time.RFC3339))
			}
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(subs)
	},
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
}
