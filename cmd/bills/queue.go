package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-bills-must-flow/internal/cli"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the review queue",
	}

	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueShowCmd())
	cmd.AddCommand(queueDismissCmd())
	cmd.AddCommand(queueRejectCmd())
	cmd.AddCommand(queueReopenCmd())

	return cmd
}

func queueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued items",
		Long: `Display the review queue in priority order: overdue items first, then
flagged duplicates, then by confidence.`,
		RunE: runQueueList,
	}
}

func runQueueList(cmd *cobra.Command, _ []string) error {
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

	items, err := store.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queue: %w", err)
	}

	if len(items) == 0 {
		fmt.Println(cli.InfoStyle.Render("Queue is empty. Run 'bills scan' to look for new documents.")) //nolint:forbidigo // User-facing output
		return nil
	}

	fmt.Println(cli.FormatTitle("Review Queue")) //nolint:forbidigo // User-facing output
	fmt.Println()                                //nolint:forbidigo // User-facing output

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() {
		if flushErr := w.Flush(); flushErr != nil {
			slog.Error("failed to flush table writer", "error", flushErr)
		}
	}()

	if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		cli.HeaderStyle.Render("ID"),
		cli.HeaderStyle.Render("Vendor"),
		cli.HeaderStyle.Render("Amount"),
		cli.HeaderStyle.Render("Due"),
		cli.HeaderStyle.Render("Status"),
		cli.HeaderStyle.Render("Conf"),
		cli.HeaderStyle.Render("Flags")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range items {
		item := &items[i]
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			item.Message.ID,
			orDash(item.Fields.Vendor),
			formatAmount(item),
			formatDue(item),
			item.Status,
			item.EffectiveConfidence(),
			formatFlags(item)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

func queueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queued item in detail",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueueShow,
	}
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	item, err := store.GetQueueItem(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}

	fmt.Println(cli.FormatTitle(orDash(item.Fields.Vendor))) //nolint:forbidigo // User-facing output
	fmt.Printf("Message:    %s (thread %s)\n", item.Message.ID, item.Message.ThreadID)
	fmt.Printf("Subject:    %s\n", item.Message.Subject)
	fmt.Printf("Type:       %s\n", item.Classification.Type)
	fmt.Printf("Confidence: %.2f (effective %.2f)\n", item.Classification.Confidence, item.EffectiveConfidence())
	fmt.Printf("Amount:     %s\n", formatAmount(item))
	fmt.Printf("Due:        %s\n", formatDue(item))
	fmt.Printf("Invoice #:  %s\n", orDash(item.Fields.InvoiceNumber))
	fmt.Printf("Status:     %s\n", item.Status)
	if item.FailureReason != "" {
		fmt.Println(cli.FormatWarning("Posting failed: " + item.FailureReason)) //nolint:forbidigo // User-facing output
	}
	if item.Duplicate.IsDuplicate {
		fmt.Println(cli.FormatWarning("Possible duplicate (" + item.Duplicate.Reason + "):")) //nolint:forbidigo // User-facing output
		for _, match := range item.Duplicate.Matches {
			fmt.Printf("  - %s", match.Vendor)
			if match.Amount != 0 {
				fmt.Printf(" %.2f", match.Amount)
			}
			if match.InvoiceNumber != "" {
				fmt.Printf(" #%s", match.InvoiceNumber)
			}
			fmt.Println() //nolint:forbidigo // User-facing output
		}
	}

	fmt.Println() //nolint:forbidigo // User-facing output
	fmt.Println(cli.SubtleStyle.Render("History:")) //nolint:forbidigo // User-facing output
	for _, entry := range item.StatusHistory {
		line := fmt.Sprintf("  %s  %-17s %s", entry.Timestamp.Format("2006-01-02 15:04"), entry.Status, entry.Source)
		if entry.Note != "" {
			line += "  " + entry.Note
		}
		fmt.Println(cli.SubtleStyle.Render(line)) //nolint:forbidigo // User-facing output
	}

	return nil
}

func queueDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Remove an item from the queue",
		Long: `Remove an item from the queue and record it in processed history so it
still participates in duplicate detection and is never re-triaged.`,
		Args: cobra.ExactArgs(1),
		RunE: runQueueDismiss,
	}
}

func runQueueDismiss(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.engine.Dismiss(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to dismiss item: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Dismissed " + args[0])) //nolint:forbidigo // User-facing output
	return nil
}

func queueRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id> <reason>",
		Short: "Reject a queued item",
		Long: `Mark an item REJECTED with a reason. If the item was already submitted
for approval the backend approval is rejected as well. Rejected items
stay in the queue and can be sent back with 'bills queue reopen'.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runQueueReject,
	}
}

func runQueueReject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	reason := strings.Join(args[1:], " ")
	if err := p.engine.Reject(ctx, args[0], reason); err != nil {
		return fmt.Errorf("failed to reject item: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Rejected " + args[0])) //nolint:forbidigo // User-facing output
	return nil
}

func queueReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Send a rejected item back for approval",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueueReopen,
	}
}

func runQueueReopen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.engine.Reopen(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to reopen item: %w", err)
	}

	fmt.Println(cli.FormatSuccess("Reopened " + args[0])) //nolint:forbidigo // User-facing output
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatAmount(item *model.QueueItem) string {
	if item.Fields.Amount == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *item.Fields.Amount, item.Fields.Currency)
}

func formatDue(item *model.QueueItem) string {
	if item.Fields.DueDate == nil {
		return "-"
	}
	due := item.Fields.DueDate.Date.Format("2006-01-02")
	if item.Fields.DueDate.Overdue {
		return cli.ErrorStyle.Render(due + " (overdue)")
	}
	return due
}

func formatFlags(item *model.QueueItem) string {
	var flags []string
	if item.Duplicate.IsDuplicate {
		flags = append(flags, cli.WarningStyle.Render("dup"))
	}
	if item.FailureReason != "" {
		flags = append(flags, cli.ErrorStyle.Render("post-failed"))
	}
	if time.Since(item.CreatedAt) > 7*24*time.Hour {
		flags = append(flags, cli.SubtleStyle.Render("stale"))
	}
	return strings.Join(flags, " ")
}
