package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-gateway/pkg/clearance"
)

var (
	listSince    string
	listUntil    string
	listTaxID    string
	listPageSize int
	listAll      bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices cleared by the authority",
	Long: `Query the authority for metadata of previously cleared invoices.

Results are paginated; by default one page is printed. With --all the
command follows continuation cursors until the result set is exhausted.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listSince, "since", "", "Only invoices cleared at or after this RFC3339 timestamp")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Only invoices cleared before this RFC3339 timestamp")
	listCmd.Flags().StringVar(&listTaxID, "tax-id", "", "Only invoices for this subject tax identifier")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 100, "Entries per page")
	listCmd.Flags().BoolVar(&listAll, "all", false, "Follow cursors until the result set is exhausted")
}

func runList(cmd *cobra.Command, args []string) error {
	filter := clearance.QueryFilter{
		SubjectTaxID: listTaxID,
		PageSize:     listPageSize,
	}
	if listSince != "" {
		t, err := time.Parse(time.RFC3339, listSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = t
	}
	if listUntil != "" {
		t, err := time.Parse(time.RFC3339, listUntil)
		if err != nil {
			return fmt.Errorf("invalid --until value: %w", err)
		}
		filter.Until = t
	}

	client, _, err := newClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer client.Close(ctx)

	var (
		all    []clearance.InvoiceMetadata
		cursor *clearance.QueryCursor
	)
	for {
		entries, next, err := client.ListInvoices(ctx, filter, cursor)
		if err != nil {
			return err
		}
		all = append(all, entries...)
		if !listAll || next == nil {
			break
		}
		cursor = next
		printVerbose("Fetched %d entries, continuing...\n", len(all))
	}

	if outputFormat == "table" {
		fmt.Printf("%-24s %-20s %-14s %-16s %s\n", "REFERENCE", "INVOICE", "SELLER TAX ID", "GROSS", "ISSUED")
		for _, e := range all {
			fmt.Printf("%-24s %-20s %-14s %12s %-3s %s\n",
				e.ReferenceNumber, e.InvoiceNumber, e.SellerTaxID,
				e.GrossAmount.StringFixed(2), e.Currency,
				e.IssueDate.Format("2006-01-02"))
		}
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}
