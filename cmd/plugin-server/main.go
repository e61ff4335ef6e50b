// Package main provides the plugin server entry point. The server hosts
// the plugin registry, the tenant installation ledger, and the batch
// install task worker in a single process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/aistack/plugin-registry/internal/db"
	"github.com/aistack/plugin-registry/pkg/cache"
	"github.com/aistack/plugin-registry/pkg/ledger"
	"github.com/aistack/plugin-registry/pkg/lifecycle"
	"github.com/aistack/plugin-registry/pkg/pluginpkg"
	"github.com/aistack/plugin-registry/pkg/registry"
	"github.com/aistack/plugin-registry/pkg/server"
	"github.com/aistack/plugin-registry/pkg/tasks"
	"github.com/aistack/plugin-registry/pkg/tenancy"
)

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		tenancyMode  string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "sqlite", "Database type (sqlite, postgres, or mysql)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&tenancyMode, "tenancy-mode", "single", "Tenancy mode (single or header)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if databaseDSN == "" {
		databaseDSN = os.Getenv("DATABASE_DSN")
	}
	if v := os.Getenv("DATABASE_TYPE"); v != "" && databaseType == "sqlite" {
		databaseType = v
	}
	if v := os.Getenv("PLUGIN_TENANCY_MODE"); v != "" && tenancyMode == "single" {
		tenancyMode = v
	}

	logger.Info("starting plugin server",
		"listen", listenAddr,
		"dbType", databaseType,
		"tenancyMode", tenancyMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Connect(db.Config{Type: databaseType, DSN: databaseDSN})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	ledgerStore := ledger.NewStore(gormDB, logger)
	registryStore := registry.NewStore(gormDB)
	taskStore := tasks.NewStore(gormDB)

	// Serialize schema migrations across replicas.
	locker := db.NewMigrationLocker(gormDB)
	err = locker.WithLock(ctx, func() error {
		if err := ledgerStore.AutoMigrate(); err != nil {
			return err
		}
		if err := registryStore.AutoMigrate(); err != nil {
			return err
		}
		return taskStore.AutoMigrate()
	})
	if err != nil {
		glog.Fatalf("Failed to migrate database schema: %v", err)
	}

	reg := registry.New(ledgerStore, registryStore, logger)
	if err := reg.Load(); err != nil {
		glog.Fatalf("Failed to load plugin registry: %v", err)
	}

	controller := lifecycle.NewController(pluginpkg.NewParser(logger), reg, ledgerStore, logger)

	taskConfig := tasks.ConfigFromEnv()
	tracker := tasks.NewTracker(taskStore, controller, taskConfig, logger)
	go tracker.Run(ctx)

	cacheManager := cache.NewManager(cache.ConfigFromEnv())

	srv := server.New(controller, reg, ledgerStore, tracker, logger,
		server.WithTenancyMode(tenancy.Mode(tenancyMode)),
		server.WithCache(cacheManager))
	router := srv.MountRoutes()

	stats := reg.Stats()
	logger.Info("plugin server ready",
		"listen", listenAddr,
		"registeredPlugins", stats.Plugins,
	)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("plugin server stopped")
}
