package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-bills-must-flow/internal/cli"
	"github.com/Veraticus/the-bills-must-flow/internal/engine"
	"github.com/Veraticus/the-bills-must-flow/internal/scanner"
)

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the mailbox for payable documents",
		Long: `Run one discovery burst: fetch candidate messages page by page,
triage each one, and queue anything that needs review or approval.

Candidates that were already queued or processed are skipped, so scanning
repeatedly is safe.`,
		RunE: runScan,
	}

	cmd.Flags().String("query", "", "Override the candidate search query")
	cmd.Flags().Bool("status", false, "Show scanner status without scanning")

	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	statusOnly, _ := cmd.Flags().GetBool("status")
	if statusOnly {
		return printScanStatus(ctx)
	}

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	cfg := scannerConfig()
	if query, _ := cmd.Flags().GetString("query"); query != "" {
		cfg.Query = query
	}

	sc := scanner.New(p.mail, p.store, &progressTriager{engine: p.engine}, nil, cfg)

	started := time.Now()
	if err := sc.TriggerScan(ctx); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	status, err := sc.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Scan complete in %s", time.Since(started).Round(time.Millisecond)))) //nolint:forbidigo // User-facing output
	if status.PendingCount > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d candidates still pending; run 'bills scan' again", status.PendingCount))) //nolint:forbidigo // User-facing output
	}

	return nil
}

func printScanStatus(ctx context.Context) error {
	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	state, err := store.GetScanState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scan state: %w", err)
	}

	fmt.Println(cli.FormatTitle("Scanner Status")) //nolint:forbidigo // User-facing output
	fmt.Printf("Pending candidates: %d\n", len(state.PendingIDs))
	fmt.Printf("Exhausted: %t\n", state.Exhausted)
	if !state.LastScanAt.IsZero() {
		fmt.Printf("Last scan: %s\n", state.LastScanAt.Format(time.RFC3339))
	}
	if state.LastError != "" {
		fmt.Println(cli.FormatError("Last error: " + state.LastError)) //nolint:forbidigo // User-facing output
	}

	return nil
}

// scannerConfig reads discovery tunables from viper, falling back to
// defaults.
func scannerConfig() scanner.Config {
	cfg := scanner.DefaultConfig()
	if v := viper.GetString("scanner.query"); v != "" {
		cfg.Query = v
	}
	if v := viper.GetInt64("scanner.page_size"); v > 0 {
		cfg.PageSize = v
	}
	if v := viper.GetInt("scanner.burst_limit"); v > 0 {
		cfg.BurstLimit = v
	}
	if v := viper.GetDuration("scanner.burst_window"); v > 0 {
		cfg.BurstWindow = v
	}
	if v := viper.GetDuration("scanner.burst_spacing"); v > 0 {
		cfg.BurstSpacing = v
	}
	return cfg
}

// progressTriager wraps the engine to show a progress bar per batch.
type progressTriager struct {
	engine *engine.Engine
}

func (t *progressTriager) TriageBatch(ctx context.Context, ids []string, _ func()) (*engine.BatchResult, error) {
	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Triaging candidates...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	defer func() {
		if err := bar.Finish(); err != nil {
			slog.Debug("Failed to finish progress bar", "error", err)
		}
	}()

	return t.engine.TriageBatch(ctx, ids, func() { _ = bar.Add(1) })
}
