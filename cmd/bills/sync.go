package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-bills-must-flow/internal/cli"
	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/syncer"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile queue statuses with the backend",
		Long: `Fetch the backend's authoritative pipeline view and overlay it onto
local queue items. The backend wins on status; locally extracted fields
are only backfilled when empty.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	sy := syncer.New(p.store, p.backend, nil, func(item *model.QueueItem, previous model.Status) {
		slog.Info("Status changed",
			"id", item.Message.ID,
			"vendor", item.Fields.Vendor,
			"from", previous,
			"to", item.Status)
	}, syncer.Config{OrgID: p.orgID})

	result, err := sy.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Sync complete: %d matched, %d changed, %d backfilled", //nolint:forbidigo // User-facing output
		result.Matched, result.Changed, result.Backfilled)))

	return nil
}
