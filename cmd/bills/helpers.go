package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-bills-must-flow/internal/classify"
	"github.com/Veraticus/the-bills-must-flow/internal/config"
	"github.com/Veraticus/the-bills-must-flow/internal/dedup"
	"github.com/Veraticus/the-bills-must-flow/internal/effects"
	"github.com/Veraticus/the-bills-must-flow/internal/engine"
	"github.com/Veraticus/the-bills-must-flow/internal/extract"
	"github.com/Veraticus/the-bills-must-flow/internal/gmail"
	"github.com/Veraticus/the-bills-must-flow/internal/ledger"
	"github.com/Veraticus/the-bills-must-flow/internal/service"
	"github.com/Veraticus/the-bills-must-flow/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/bills/bills.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initMailSource builds the Gmail-backed mail source from config.
func initMailSource(ctx context.Context) (service.MailSource, error) {
	cfg, err := config.LoadGmailConfig()
	if err != nil {
		return nil, err
	}
	return gmail.NewSource(ctx, *cfg)
}

// initBackend builds the ledger backend client from config. The org id is
// also returned for snapshot scoping.
func initBackend() (service.LedgerBackend, string, error) {
	cfg, err := config.LoadBackendConfig()
	if err != nil {
		return nil, "", err
	}
	client, err := ledger.NewClient(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, "", err
	}
	return client, cfg.OrgID, nil
}

// pipeline bundles the services a triage run needs plus cleanup.
type pipeline struct {
	store   service.Storage
	mail    service.MailSource
	backend service.LedgerBackend
	engine  *engine.Engine
	effects *effects.Worker
	orgID   string
}

// close releases pipeline resources, flushing pending label work first.
func (p *pipeline) close() {
	if p.effects != nil {
		p.effects.Stop()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Error("Failed to close storage", "error", err)
		}
	}
}

// buildPipeline wires storage, mail, backend, and the triage engine.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	mail, err := initMailSource(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize mail source: %w", err)
	}

	backend, orgID, err := initBackend()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	vendors, err := store.GetKnownVendors(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load known vendors: %w", err)
	}

	knownDomains := viper.GetStringSlice("classifier.known_domains")
	for _, vendor := range vendors {
		if vendor.Domain != "" {
			knownDomains = append(knownDomains, vendor.Domain)
		}
	}

	classifier, err := classify.New(knownDomains)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	var extractOpts []extract.Option
	if currency := viper.GetString("extract.default_currency"); currency != "" {
		extractOpts = append(extractOpts, extract.WithDefaultCurrency(currency))
	}
	extractor := extract.New(vendors, extractOpts...)

	detector := dedup.New(dedup.Config{
		EditDistance:    viper.GetInt("dedup.edit_distance"),
		AmountTolerance: viper.GetFloat64("dedup.amount_tolerance"),
	})

	worker := effects.NewWorker(mail, viper.GetInt("effects.buffer"))

	eng := engine.New(store, mail, backend, classifier, extractor, detector, nil, worker, engine.Config{
		AutoApproveThreshold: viper.GetFloat64("engine.auto_approve_threshold"),
	})

	return &pipeline{
		store:   store,
		mail:    mail,
		backend: backend,
		engine:  eng,
		effects: worker,
		orgID:   orgID,
	}, nil
}
