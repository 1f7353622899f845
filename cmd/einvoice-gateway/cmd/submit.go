package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-gateway/pkg/clearance"
)

var (
	submitLocalID string
	submitWait    bool
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit an invoice payload for clearance",
	Long: `Submit a single invoice payload (XML or PDF) to the clearance
authority and print the resulting submission record.

With --wait the command polls the authority until the invoice is accepted
or rejected, or until --timeout elapses. A timed-out submission keeps its
authority reference number and can be polled again with "status".`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitLocalID, "local-id", "", "Caller-side correlation id (generated when empty)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", true, "Wait for the clearance verdict")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "How long to wait for a verdict")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	client, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer client.Close(ctx)

	printVerbose("Submitting %s (%d bytes)...\n", path, len(data))

	sub, err := client.SubmitInvoice(ctx, submitLocalID, data, contentTypeFor(path))
	if err != nil {
		return err
	}
	printVerbose("Acknowledged as %s\n", sub.AuthorityReferenceNumber)

	if submitWait {
		sub, err = client.AwaitOutcome(ctx, sub.LocalID, submitTimeout)
		if err != nil {
			// The submission state carries the reference number needed
			// to resume polling later, so print it before failing.
			printSubmission(sub)
			return err
		}
	}

	printSubmission(sub)
	return nil
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	default:
		return ""
	}
}

func printSubmission(sub clearance.Submission) {
	if outputFormat == "table" {
		fmt.Printf("%-20s %s\n", "Local ID:", sub.LocalID)
		fmt.Printf("%-20s %s\n", "Reference:", sub.AuthorityReferenceNumber)
		fmt.Printf("%-20s %s\n", "Status:", sub.Status)
		if sub.FailureReason != "" {
			fmt.Printf("%-20s %s\n", "Failure reason:", sub.FailureReason)
		}
		fmt.Printf("%-20s %s\n", "Payload hash:", sub.PayloadHash)
		fmt.Printf("%-20s %s\n", "Submitted at:", sub.SubmittedAt.Format(time.RFC3339))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(sub)
}
