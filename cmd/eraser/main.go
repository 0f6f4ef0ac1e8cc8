package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/eraser/internal/config"
	"github.com/mantonx/eraser/internal/database"
	"github.com/mantonx/eraser/internal/logger"
	"github.com/mantonx/eraser/internal/modules/modulemanager"
	"github.com/mantonx/eraser/internal/server"

	// Import all modules to trigger their registration
	_ "github.com/mantonx/eraser/internal/modules/removalmodule"
)

// shutdownTimeout bounds the drain of requests and in-flight runs.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eraser: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("ERASER_CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()
	if *configPath == "" {
		if _, err := os.Stat("./eraser.yaml"); err == nil {
			*configPath = "./eraser.yaml"
		}
	}

	if err := config.Load(*configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.Get()

	log, closer, err := logger.New("eraser", cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer closer.Close()
	logger.SetDefault(log)
	if *configPath != "" {
		log.Info("configuration loaded", "path", *configPath)
	} else {
		log.Info("using default configuration")
	}

	if log.GetLevel() > hclog.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Initialize(cfg.Database, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := modulemanager.LoadAll(db); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}

	config.AddWatcher(func(oldConfig, newConfig *config.Config) {
		logger.ApplyLevel(log, newConfig.Logging)
		if err := modulemanager.Registry.Reload(newConfig); err != nil {
			log.Warn("config reload partially applied", "error", err)
		}
	})
	if *configPath != "" {
		reloader, err := config.GetConfigManager().WatchFile(config.DefaultReloadDebounce)
		if err != nil {
			log.Warn("config hot reload disabled", "error", err)
		} else {
			defer reloader.Stop()
		}
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        server.SetupRouter(cfg, modulemanager.Registry),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	if err := modulemanager.Shutdown(shutdownCtx); err != nil {
		log.Error("module shutdown error", "error", err)
	}
	log.Info("server shutdown complete")
	return nil
}
