package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"martingalian/config"
	"martingalian/internal/circuit"
	"martingalian/internal/database"
	"martingalian/internal/jobs"
	"martingalian/internal/logging"
	"martingalian/internal/notification"
	"martingalian/internal/num"
	"martingalian/internal/observer"
	"martingalian/internal/scheduler"
	"martingalian/internal/snapshots"
	"martingalian/internal/steps"
	"martingalian/internal/vault"
	"martingalian/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "martingalian: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("MARTINGALIAN_CONFIG"))
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.Info().Msg("starting engine")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.NewDB(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, snapshots degraded")
	}
	store := snapshots.New(rdb, cfg.Engine.SnapshotTTL)

	vaultClient, err := vault.NewClient(vault.Config{
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		TLSEnabled: cfg.Vault.TLSEnabled,
		CACert:     cfg.Vault.CACert,
	})
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	adapters := vault.NewProvider(vaultClient)

	notifier := notification.NewService(db, logger)
	if sink := notification.NewTelegramSink(cfg.Notification.TelegramBotToken, cfg.Notification.TelegramChatID); sink != nil {
		notifier.Subscribe(notification.LevelInfo, sink)
		notifier.Subscribe(notification.LevelError, sink)
		logger.Info().Msg("telegram notifications enabled")
	}
	if sink := notification.NewDiscordSink(cfg.Notification.DiscordWebhookURL); sink != nil {
		notifier.Subscribe(notification.LevelError, sink)
		logger.Info().Msg("discord notifications enabled")
	}

	enqueuer := &workflows.Enqueuer{DB: db}

	breaker := circuit.New(circuit.Config{
		MaxConsecutiveLosses: cfg.Circuit.MaxConsecutiveLosses,
		MaxDailyLoss:         parseDecimal(cfg.Circuit.MaxDailyLoss),
		Cooldown:             cfg.Circuit.Cooldown,
	})

	deps := &jobs.Deps{
		DB:        db,
		Adapters:  adapters,
		Notifier:  notifier,
		Breaker:   breaker,
		Snapshots: store,
		Logger:    logger,
	}
	engine := steps.New(deps, jobs.NewRegistry(), steps.Config{
		Workers:         cfg.Engine.Workers,
		PollInterval:    cfg.Engine.PollInterval,
		MaxRetries:      cfg.Engine.MaxRetries,
		PerAccountSlots: cfg.Engine.PerAccountSlots,
	})

	obs := &observer.Observer{
		DB:       db,
		Adapters: adapters,
		Enqueuer: enqueuer,
		Mutex:    snapshots.NewPositionMutex(rdb, 0),
		Logger:   logger,
		Interval: cfg.Engine.ObserverInterval,
	}

	sched := scheduler.New(db, adapters, enqueuer, store, logger, scheduler.Config{
		TickSpec:          cfg.Scheduler.TickSpec,
		SymbolRefreshSpec: cfg.Scheduler.SymbolRefreshSpec,
		SpikeThresholdPct: parseDecimal(cfg.Scheduler.SpikeThresholdPct),
		Cooldown:          cfg.Scheduler.Cooldown,
		MaxMarkAge:        cfg.Scheduler.MaxMarkAge,
	})
	sched.Breaker = breaker
	sched.Notifier = notifier

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("step engine stopped")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := obs.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("observer stopped")
			cancel()
		}
	}()

	if err := sched.Start(ctx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("scheduler: %w", err)
	}

	logger.Info().Msg("engine running")
	<-ctx.Done()

	logger.Info().Msg("shutting down")
	sched.Stop()
	wg.Wait()
	logger.Info().Msg("shutdown complete")
	return nil
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, err := num.Parse(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
