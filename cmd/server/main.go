// Package main is the entry point for the tieba moderation daemon:
// it loads configuration, opens storage, wires
// every per-user rule pipeline, starts the crawl orchestrator, and drains
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tieba-mod/moderator/internal/classifier"
	"github.com/tieba-mod/moderator/internal/config"
	"github.com/tieba-mod/moderator/internal/confirm"
	"github.com/tieba-mod/moderator/internal/crawler"
	"github.com/tieba-mod/moderator/internal/dispatch"
	"github.com/tieba-mod/moderator/internal/domain"
	"github.com/tieba-mod/moderator/internal/eventbus"
	"github.com/tieba-mod/moderator/internal/rule"
	"github.com/tieba-mod/moderator/internal/spider"
	"github.com/tieba-mod/moderator/internal/storage"
	pgstorage "github.com/tieba-mod/moderator/internal/storage/postgres"
	"github.com/tieba-mod/moderator/internal/tieba"
	"github.com/tieba-mod/moderator/pkg/logger"
	"github.com/tieba-mod/moderator/pkg/metrics"
)

const serviceName = "tieba-moderator"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   serviceName,
		Short: "Run the tieba forum moderation daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config YAML (defaults and env vars apply if omitted)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting", "service", serviceName, "storage_backend", cfg.Storage.Backend)

	opened, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer opened.Close()

	clf, err := classifier.New(classifier.Config{Storage: opened.FullStorage, Logger: logger})
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	reader := tieba.NewReaderClient(unconfiguredDial)
	if err := reader.Open(); err != nil {
		logger.Warn("reader client failed to open; crawling will fail until a real upstream transport is wired", "error", err)
	}
	defer reader.Close()

	browser := tieba.NewBrowser(http.DefaultClient, logger)

	// Startup reads system config: a config
	// previously persisted by update_config wins over the file/defaults,
	// so an operator's runtime tuning survives a restart.
	systemCfg := cfg.System
	if persisted, ok, err := opened.Store.LoadSystemConfig(ctx); err != nil {
		logger.Warn("load persisted system config failed, using file/defaults", "error", err)
	} else if ok {
		systemCfg = persisted
	}

	eta := tieba.NewEtaSleep(scanCooldown(systemCfg.Scan.QueryCD))
	controller := eventbus.NewController(systemCfg, opened.Store, logger)

	sp := spider.New(reader, browser, clf, eta, controllerScan(controller), logger)
	orchestrator := crawler.New(sp, controller.DispatchContent, opened.Store, controller.Running,
		func() time.Duration { return scanCooldown(controller.Config().Scan.LoopCD) }, logger)

	// A scan-config change adjusts the live rate gate and bounces the
	// crawl task so new pagination parameters take effect on the next
	// pass without interrupting DispatchContent delivery.
	controller.SystemConfigChanged.On(func(ctx context.Context, change eventbus.SystemConfigChange) error {
		eta.SetCooldown(scanCooldown(change.New.Scan.QueryCD))
		orchestrator.Restart(ctx)
		return nil
	})

	// ClearCache sweeps TTL-expired content rows; per-user confirm stores
	// register their own sweeps in wireUsers.
	controller.ClearCache.On(func(ctx context.Context, _ struct{}) error {
		pruned, err := opened.Store.PruneExpiredContent(ctx, time.Now().Add(-cfg.Storage.ContentCacheExpire))
		if err != nil {
			return fmt.Errorf("prune expired content: %w", err)
		}
		if pruned > 0 {
			logger.Info("pruned expired content rows", "rows", pruned)
		}
		return nil
	})

	conditionRegistry := rule.NewConditionRegistry()
	operationRegistry := rule.NewOperationRegistry()

	_, closeUsers, err := wireUsers(cfg, conditionRegistry, operationRegistry, opened.Store, controller, logger)
	if err != nil {
		return fmt.Errorf("wire users: %w", err)
	}
	defer closeUsers()

	orchestrator.UpdateNeeds(ctx, cfg.EnabledUsers())
	controller.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go cacheSweepLoop(runCtx, controller)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(runCtx, cfg.Metrics.Addr, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info("running, awaiting SIGINT/SIGTERM")
	select {
	case <-sigCh:
		logger.Info("signal received, draining")
	case <-ctx.Done():
	}

	controller.Stop(runCtx)
	cancel()
	logger.Info("shutdown complete")
	return nil
}

// cacheSweepLoop broadcasts ClearCache on a fixed cadence so the content
// table's TTL sweep and every confirm store's expiry purge run without an
// external trigger.
func cacheSweepLoop(ctx context.Context, controller *eventbus.Controller) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			controller.ClearCache.Broadcast(ctx, struct{}{})
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewEndpointHandler(nil, metrics.DefaultEndpointConfig(), logger))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

// controllerScan returns a func() domain.ScanConfig reading the
// controller's live config, so a restart takes effect
// without reconstructing the Spider.
func controllerScan(c *eventbus.Controller) func() domain.ScanConfig {
	return func() domain.ScanConfig { return c.Config().Scan }
}

func scanCooldown(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// wireUsers builds one Processer/Executor/Dispatcher/confirm.Store per
// enabled user and subscribes each dispatcher to the
// controller's DispatchContent bus.
func wireUsers(cfg *config.Config, conditionRegistry *rule.ConditionRegistry, operationRegistry *rule.OperationRegistry,
	recorder rule.ProcessRecorder, controller *eventbus.Controller, logger *slog.Logger) ([]*dispatch.Dispatcher, func(), error) {

	var dispatchers []*dispatch.Dispatcher
	var clients []*tieba.Client
	var sweepListeners []*eventbus.Listener

	closeAll := func() {
		for _, d := range dispatchers {
			d.Stop()
		}
		for _, l := range sweepListeners {
			l.UnRegister()
		}
		for _, c := range clients {
			_ = c.Stop()
		}
	}

	for _, u := range cfg.EnabledUsers() {
		client := tieba.NewClient(u.Forum.BDUSS, u.Forum.STOKEN, unconfiguredDialAuth)
		clients = append(clients, client)
		if ok, err := client.Start(context.Background()); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("start client for %s: %w", u.Username, err)
		} else if !ok {
			logger.Warn("moderator client not authenticated", "user", u.Username, "state", client.State())
		}

		info := tieba.NewInfo(client)
		processer := rule.NewProcesser(conditionRegistry, operationRegistry, u, recorder)
		executor := dispatch.NewExecutor(client, info, u.Forum, logger)

		confirmTTL := time.Duration(u.Process.ConfirmExpire) * time.Second
		if confirmTTL <= 0 {
			confirmTTL = 24 * time.Hour
		}

		confirmStore, err := newConfirmStore(cfg.Confirm, u.Username, confirmTTL, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("confirm store for %s: %w", u.Username, err)
		}

		// The Redis tier expires entries server-side; only the file tier
		// needs the ClearCache sweep.
		if fileStore, ok := confirmStore.(*confirm.Store); ok {
			username := u.Username
			sweepListeners = append(sweepListeners, controller.ClearCache.On(func(ctx context.Context, _ struct{}) error {
				if n := fileStore.Clean(); n > 0 {
					metrics.Default().Business().ConfirmExpiredTotal.WithLabelValues(username).Add(float64(n))
				}
				return nil
			}))
		}

		d := dispatch.New(processer, executor, confirmStore, operationRegistry, u.Process.MandatoryConfirm, logger)
		d.Subscribe(controller.DispatchContent)
		dispatchers = append(dispatchers, d)
	}

	return dispatchers, closeAll, nil
}

// newConfirmStore builds the per-user confirmation store for the
// configured backend: file-backed by default, or a shared
// Redis instance keyed by username when cfg.Backend == "redis".
func newConfirmStore(cfg config.ConfirmConfig, username string, ttl time.Duration, logger *slog.Logger) (dispatch.ConfirmStore, error) {
	if cfg.Backend == config.ConfirmBackendRedis {
		return confirm.NewRedisStore(confirm.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, username, ttl, logger)
	}

	confirmPath := ""
	if cfg.Dir != "" {
		confirmPath = cfg.Dir + "/" + username + ".json"
	}
	return confirm.New(confirmPath, ttl, logger), nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*storage.Opened, error) {
	switch cfg.Backend {
	case config.StorageBackendPostgres:
		return storage.Open(ctx, storage.Config{
			Backend: storage.BackendPostgres,
			Postgres: pgstorage.Config{
				DSN:             cfg.PostgresDSN,
				MaxConns:        cfg.PostgresMaxConns,
				MinConns:        cfg.PostgresMinConns,
				MaxConnLifetime: cfg.PostgresMaxConnLifetime,
				MaxConnIdleTime: cfg.PostgresMaxConnIdleTime,
				ConnectTimeout:  cfg.PostgresConnectTimeout,
			},
			ReadCacheSize: cfg.ReadCacheSize,
		}, logger)
	default:
		return storage.Open(ctx, storage.Config{
			Backend:       storage.BackendSQLite,
			SQLite:        storage.SQLiteConfig{Path: cfg.SQLitePath},
			ReadCacheSize: cfg.ReadCacheSize,
		}, logger)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	return logger.NewLogger(logger.Config{Level: cfg.Level, Format: cfg.Format, Output: cfg.Output})
}

// unconfiguredDial/unconfiguredDialAuth are the seams where a real
// aiotieba-equivalent transport plugs in (tieba.UpstreamAPI); none ships
// with this module, matching the package doc's "tests substitute a fake."
// Wiring a concrete HTTP client here is a deployment-time decision, not a
// library dependency this repo can make on the operator's behalf.
func unconfiguredDial() (tieba.UpstreamAPI, error) {
	return nil, fmt.Errorf("tieba: no upstream transport configured")
}

func unconfiguredDialAuth(bduss, stoken string) (tieba.UpstreamAPI, error) {
	return nil, fmt.Errorf("tieba: no upstream transport configured")
}
