package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-bills-must-flow/internal/cli"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

func vendorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vendors",
		Short: "Manage the known-vendor dictionary",
		Long: `The known-vendor dictionary improves classification (mail from a known
vendor domain scores higher) and vendor extraction.`,
	}

	cmd.AddCommand(vendorsListCmd())
	cmd.AddCommand(vendorsAddCmd())

	return cmd
}

func vendorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known vendors",
		RunE:  runVendorsList,
	}
}

func runVendorsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	vendors, err := store.GetKnownVendors(ctx)
	if err != nil {
		return fmt.Errorf("failed to get vendors: %w", err)
	}

	// Sort by use count descending
	sort.Slice(vendors, func(i, j int) bool {
		return vendors[i].UseCount > vendors[j].UseCount
	})

	if len(vendors) == 0 {
		fmt.Println(cli.InfoStyle.Render("No known vendors yet. Use 'bills vendors add' to create one.")) //nolint:forbidigo // User-facing output
		return nil
	}

	fmt.Println(cli.FormatTitle("Known Vendors")) //nolint:forbidigo // User-facing output
	fmt.Println()                                 //nolint:forbidigo // User-facing output

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		cli.HeaderStyle.Render("Name"),
		cli.HeaderStyle.Render("Domain"),
		cli.HeaderStyle.Render("Uses"),
		cli.HeaderStyle.Render("Last Seen")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, vendor := range vendors {
		lastSeen := "Never"
		if vendor.UseCount > 0 {
			lastSeen = vendor.LastSeen.Format("2006-01-02")
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			vendor.Name, vendor.Domain, vendor.UseCount, lastSeen); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

func vendorsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a known vendor",
		Args:  cobra.ExactArgs(1),
		RunE:  runVendorsAdd,
	}

	cmd.Flags().String("domain", "", "Sender domain associated with the vendor")

	return cmd
}

func runVendorsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	domain, _ := cmd.Flags().GetString("domain")
	vendor := &model.KnownVendor{
		Name:     args[0],
		Domain:   domain,
		LastSeen: time.Now(),
	}

	if err := store.SaveKnownVendor(ctx, vendor); err != nil {
		return fmt.Errorf("failed to save vendor: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Added vendor " + vendor.Name)) //nolint:forbidigo // User-facing output
	return nil
}
