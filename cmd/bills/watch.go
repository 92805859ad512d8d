package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-bills-must-flow/internal/model"
	"github.com/Veraticus/the-bills-must-flow/internal/scanner"
	"github.com/Veraticus/the-bills-must-flow/internal/syncer"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously scan and sync until interrupted",
		Long: `Run the pipeline as a long-lived process: trigger a discovery scan on
every scan interval and reconcile queue statuses against the backend on
every sync interval. Stops cleanly on interrupt.`,
		RunE: runWatch,
	}

	cmd.Flags().Duration("scan-interval", 5*time.Minute, "Time between discovery scans")
	cmd.Flags().Duration("sync-interval", 5*time.Minute, "Time between backend syncs")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	scanInterval, _ := cmd.Flags().GetDuration("scan-interval")
	if v := viper.GetDuration("scanner.interval"); v > 0 {
		scanInterval = v
	}
	syncInterval, _ := cmd.Flags().GetDuration("sync-interval")
	if v := viper.GetDuration("sync.interval"); v > 0 {
		syncInterval = v
	}

	sc := scanner.New(p.mail, p.store, p.engine, nil, scannerConfig())
	sy := syncer.New(p.store, p.backend, nil, watchNotifier, syncer.Config{
		OrgID:    p.orgID,
		Interval: syncInterval,
	})

	slog.Info("Watching mailbox",
		"scan_interval", scanInterval,
		"sync_interval", syncInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc.Run(ctx, scanInterval)
	}()
	go func() {
		defer wg.Done()
		sy.Run(ctx)
	}()

	<-ctx.Done()
	sc.Stop()
	sy.Stop()
	wg.Wait()

	slog.Info("Watch stopped")
	return nil
}

// watchNotifier surfaces backend-driven status changes to the log.
func watchNotifier(item *model.QueueItem, previous model.Status) {
	slog.Info(fmt.Sprintf("Backend moved %q", item.Fields.Vendor),
		"id", item.Message.ID,
		"from", previous,
		"to", item.Status)
}
