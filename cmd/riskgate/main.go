package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillm/riskgate/internal/admission"
	"github.com/kirillm/riskgate/internal/api"
	"github.com/kirillm/riskgate/internal/config"
	"github.com/kirillm/riskgate/internal/gate"
	"github.com/kirillm/riskgate/internal/orchestrator"
	"github.com/kirillm/riskgate/internal/storage"
	"github.com/kirillm/riskgate/internal/telegram"
	"github.com/kirillm/riskgate/pkg/utils"
)

// Store хранилище процесса
type Store interface {
	gate.Store
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.LogError("Failed to load config: " + err.Error())
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	utils.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("riskgate stopped with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	profile, err := config.LoadRiskProfile(cfg.Risk.ProfilePath, cfg.Risk.Profile)
	if err != nil {
		return err
	}
	logger.Info("Using risk profile %q", profile.Name)

	opts := gate.Options{
		Drawdown:      profile.Drawdown,
		WinRate:       profile.WinRate,
		Throttle:      profile.Throttle,
		PositionLimit: profile.PositionLimit,
		Dispatcher: admission.DispatcherConfig{
			Workers:      cfg.Dispatcher.Workers,
			BufferSize:   cfg.Dispatcher.BufferSize,
			Timeout:      cfg.Dispatcher.Timeout,
			MaxAttempts:  cfg.Dispatcher.MaxAttempts,
			RetryBackoff: cfg.Dispatcher.RetryBackoff,
		},
	}

	// Telegram опционален: без токена уведомления не отправляются
	var bot *telegram.Bot
	if cfg.Telegram.BotToken != "" {
		auth := telegram.NewAuthManager(cfg.Telegram.AdminIDs, cfg.Telegram.Whitelist)
		bot, err = telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, auth, telegram.Lang(cfg.Telegram.Lang), logger)
		if err != nil {
			return err
		}
		defer bot.Close()
		opts.Notifier = bot
	}

	reg := gate.NewRegistry(store, opts, logger)
	defer reg.Close()
	if err := reg.Initialize(ctx); err != nil {
		return err
	}

	// Ордера строит и отправляет внешний исполнитель. Здесь сигнал, получивший слот
	// из очереди, только фиксируется в журнале.
	reg.Positions.SetExecuteCallback(func(ctx context.Context, data map[string]interface{}) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode released signal: %w: %w", admission.ErrNotExecuted, err)
		}
		logger.Info("queued signal released: %s", payload)
		return store.SaveLog(ctx, "info", "queued signal released", string(payload))
	})

	maintenance := orchestrator.New(reg, cfg.MaintenanceInterval, logger)
	if bot != nil {
		bot.RegisterCommands(reg)
		maintenance.AddTask("telegram_rate_limiters", bot.CleanupRateLimiters)
		go bot.Start(ctx)
	}
	if err := maintenance.Start(ctx); err != nil {
		return err
	}
	defer maintenance.Stop()

	server := api.NewServer(logger, gate.New(reg, logger), cfg.API.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}
	return nil
}

func openStore(cfg *config.Config) (Store, error) {
	if cfg.Storage == config.StorageMemory {
		utils.LogWarn("Using in-memory storage: state is lost on restart")
		return storage.NewMemoryStorage(), nil
	}

	db := cfg.Database
	return storage.NewPostgresStorage(db.DSN(), db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime)
}
