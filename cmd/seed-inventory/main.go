package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tryathome/orderflow/internal/di"
	"github.com/tryathome/orderflow/internal/platform/catalog"
	"github.com/tryathome/orderflow/internal/platform/config"
	"github.com/tryathome/orderflow/internal/platform/observability"
	"github.com/tryathome/orderflow/internal/services"
)

func main() {
	var (
		catalogPath string
		envFile     string
		dryRun      bool
	)
	flag.StringVar(&catalogPath, "catalog", "", "catalog YAML with per-variant stock (defaults to API_CATALOG_FILE)")
	flag.StringVar(&envFile, "env-file", "", "optional .env file to load before the process environment")
	flag.BoolVar(&dryRun, "dry-run", false, "print the restock plan without writing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("seed-inventory")
	ctx = observability.WithLogger(ctx, logger)

	var opts []config.Option
	if strings.TrimSpace(envFile) != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if path := strings.TrimSpace(catalogPath); path != "" {
		cfg.Catalog.File = path
		cfg.Catalog.BaseURL = ""
	}
	if strings.TrimSpace(cfg.Catalog.File) == "" {
		logger.Fatal("a catalog file is required: pass -catalog or set API_CATALOG_FILE")
	}

	file, err := catalog.LoadFile(cfg.Catalog.File)
	if err != nil {
		logger.Fatal("failed to read catalog", zap.String("path", cfg.Catalog.File), zap.Error(err))
	}
	entries := file.Stock()
	if dryRun {
		for _, entry := range entries {
			logger.Info("restock planned",
				zap.String("productId", entry.ProductID),
				zap.String("variantId", entry.VariantID),
				zap.Int("quantity", entry.Quantity),
			)
		}
		return
	}
	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Warn("store driver is memory; seeded stock will not outlive this process")
	}

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	seeded, skipped := 0, 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.Quantity <= 0 && entry.LowStockThreshold == nil {
			skipped++
			continue
		}
		line, err := container.Services.Inventory.Restock(ctx, services.RestockCommand{
			Key:               services.InventoryKey{ProductID: entry.ProductID, VariantID: entry.VariantID},
			Quantity:          entry.Quantity,
			LowStockThreshold: entry.LowStockThreshold,
		})
		if err != nil {
			logger.Error("restock failed", zap.String("key", entry.ProductID+":"+entry.VariantID), zap.Error(err))
			continue
		}
		seeded++
		logger.Info("restocked",
			zap.String("key", line.Key.String()),
			zap.Int("available", line.Available),
			zap.Bool("lowStock", line.IsLowStock()),
		)
	}
	logger.Info("seed complete", zap.Int("seeded", seeded), zap.Int("skipped", skipped), zap.Int("total", len(entries)))
}
