package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vexchange/internal/api"
	"vexchange/internal/domain"
	"vexchange/internal/infra"
	"vexchange/internal/infra/storage"
	"vexchange/internal/service"

	"github.com/gin-gonic/gin"
)

// DefaultConfigPath is used when no path is given on the command line.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config  *infra.Config
	Logger  *slog.Logger
	Storage *storage.Storage
	Service *service.FillService
	Server  *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, DB, service, HTTP)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping vexchange...", slog.String("config", b.ConfigPath))

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	b.Logger = logger

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(storage.Options{
		Driver:        cfg.Storage.Driver,
		DSN:           cfg.Storage.DSN,
		MaxOpenConns:  cfg.Storage.MaxOpenConns,
		SlowThreshold: time.Duration(cfg.Storage.SlowQueryMillis) * time.Millisecond,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	// 4. Fill-accounting service
	b.Service = service.NewFillService(store, service.Options{
		OpTimeout:       cfg.OpTimeout(),
		MaxAttempts:     cfg.Service.MaxAttempts,
		RetryBase:       time.Duration(cfg.Service.RetryBaseMillis) * time.Millisecond,
		RetryMax:        time.Duration(cfg.Service.RetryMaxMillis) * time.Millisecond,
		MaxRetryElapsed: time.Duration(cfg.Service.MaxRetryElapsedSec) * time.Second,
		Metrics:         infra.GlobalMetrics,
		Logger:          logger,
	})
	slog.Info("✅ Fill service ready",
		slog.Duration("op_timeout", cfg.OpTimeout()),
		slog.Int("max_attempts", cfg.Service.MaxAttempts),
	)

	// 5. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	b.Server = api.NewServer(cfg, b.Service, store, logger, infra.GlobalMetrics)

	return nil
}

// AuditResult summarises one AuditOpenOrders run.
type AuditResult struct {
	Checked int64
	Failed  int64
}

// AuditOpenOrders re-checks every open order against its trades in the background.
// Mismatches are logged and counted by the service; the audit never modifies data.
func (b *Bootstrap) AuditOpenOrders(ctx context.Context) AuditResult {
	slog.Info("🔄 Starting open-order audit...")

	var wg sync.WaitGroup
	var checked, failed atomic.Int64
	semaphore := make(chan struct{}, 5) // Limit concurrent audits

	filter := domain.OrderFilter{
		Statuses:  domain.OpenStatuses(),
		Limit:     domain.MaxPageLimit,
		Ascending: true,
	}

	for {
		page, err := b.Service.QueryOrders(ctx, filter)
		if err != nil {
			slog.Warn("Open-order audit aborted", slog.Any("error", err))
			break
		}

		for _, order := range page.Items {
			select {
			case <-ctx.Done():
				wg.Wait()
				return AuditResult{Checked: checked.Load(), Failed: failed.Load()}
			case semaphore <- struct{}{}: // Acquire
			}

			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer func() { <-semaphore }() // Release

				checked.Add(1)
				if err := b.Service.VerifyOrder(ctx, id); err != nil {
					failed.Add(1)
				}
			}(order.ID)
		}

		if len(page.Items) < filter.Limit {
			break
		}
		filter.Offset += len(page.Items)
	}

	wg.Wait()
	slog.Info("✨ Open-order audit completed",
		slog.Int64("checked", checked.Load()),
		slog.Int64("failed", failed.Load()),
	)
	return AuditResult{Checked: checked.Load(), Failed: failed.Load()}
}

// Close releases resources acquired by Initialize.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close database", slog.Any("error", err))
		}
	}
}
