package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <reference-number>",
	Short: "Download a cleared invoice",
	Long: `Download the content of a cleared invoice by its authority reference
number. The content is verified against the hash declared by the
authority before it is written anywhere.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default: stdout)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer client.Close(ctx)

	inv, err := client.DownloadInvoice(ctx, args[0])
	if err != nil {
		return err
	}

	if downloadOutput == "" {
		_, err = os.Stdout.Write(inv.Content)
		return err
	}
	if err := os.WriteFile(downloadOutput, inv.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", downloadOutput, err)
	}
	printVerbose("Wrote %d bytes to %s\n", len(inv.Content), downloadOutput)
	return nil
}
