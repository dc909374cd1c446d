package starmint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/starmint/starmint/starmint/api"
	"github.com/starmint/starmint/starmint/catalog"
	"github.com/starmint/starmint/starmint/database"
	"github.com/starmint/starmint/starmint/database/repositories"
	"github.com/starmint/starmint/starmint/economy/auction"
	"github.com/starmint/starmint/starmint/economy/pricing"
	"github.com/starmint/starmint/starmint/economy/schedule"
	"github.com/starmint/starmint/starmint/economy/scoring"
	"github.com/starmint/starmint/starmint/economy/tiers"
	"github.com/starmint/starmint/starmint/economy/utils"
	"github.com/starmint/starmint/starmint/metrics"
	"github.com/starmint/starmint/starmint/notify"
	"github.com/starmint/starmint/starmint/scheduler"
)

// App holds every engine wired to one database.
type App struct {
	Config  *Config
	DB      *database.DB
	Clock   clockwork.Clock
	Metrics *metrics.Registry

	Collectibles repositories.CollectibleRepository
	TxManager    *utils.TransactionManager

	Scorer     *scoring.Engine
	Prices     *pricing.Service
	Tiers      *tiers.Engine
	Schedule   *schedule.Machine
	Auctions   *auction.Manager
	Catalog    *catalog.Service
	Importer   *catalog.Importer
	Dispatcher *notify.Dispatcher
}

// New connects to the configured database and wires the engines.
func New(ctx context.Context, cfg *Config) (*App, error) {
	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	app, err := NewWithDB(cfg, db, clockwork.NewRealClock())
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

// NewWithDB wires the engines on an open database.
func NewWithDB(cfg *Config, db *database.DB, clock clockwork.Clock) (*App, error) {
	m := metrics.NewRegistry()
	bunDB := db.BunDB()
	txManager := utils.NewTransactionManager(bunDB)

	collectibles := repositories.NewCollectibleRepository(bunDB)
	history := repositories.NewHistoryRepository(bunDB)
	schedules := repositories.NewScheduleRepository(bunDB)
	auctions := repositories.NewAuctionRepository(bunDB)

	system, err := cfg.Scoring.Load()
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.NewEngine(system)
	if err != nil {
		return nil, err
	}

	calculator, err := pricing.NewCalculator(cfg.Pricing.Formula())
	if err != nil {
		return nil, err
	}
	machine := schedule.NewMachine(schedules, txManager, calculator, clock, m)

	prices, err := pricing.NewService(calculator, collectibles, history, machine, txManager, cfg.Pricing.Options(), clock, m)
	if err != nil {
		return nil, err
	}

	quotas, err := tiers.ParseQuotas(cfg.Tiers.Quotas)
	if err != nil {
		return nil, err
	}
	tierEngine := tiers.NewEngine(collectibles, txManager, quotas, prices, m)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.Discord.Token != "" {
		notifier = notify.NewDiscordNotifier(cfg.Notify.Discord)
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.Notify.QueueSize, cfg.Notify.Timeout, m)

	auctionManager := auction.NewManager(auctions, collectibles, history, machine, txManager, dispatcher, cfg.Auction, clock, m)
	auctionManager.SetPriceCache(prices)

	machine.OnTransition(func(ctx context.Context, t schedule.Transition) {
		switch t.Kind {
		case schedule.TransitionBootstrap, schedule.TransitionSeriesAdvanced:
		default:
			return
		}
		if _, err := prices.RecalculateAllPrices(ctx); err != nil {
			slog.Error("Failed to reprice after series change",
				slog.String("type", "error"),
				slog.String("component", "app"),
				slog.Int("series", t.SeriesNumber),
				slog.String("error", err.Error()))
		}
	})

	return &App{
		Config:       cfg,
		DB:           db,
		Clock:        clock,
		Metrics:      m,
		Collectibles: collectibles,
		TxManager:    txManager,
		Scorer:       scorer,
		Prices:       prices,
		Tiers:        tierEngine,
		Schedule:     machine,
		Auctions:     auctionManager,
		Catalog:      catalog.NewService(collectibles, history, machine, prices, txManager, clock),
		Importer:     catalog.NewImporter(collectibles, txManager, scorer, prices, cfg.Pricing.BatchSize),
		Dispatcher:   dispatcher,
	}, nil
}

// Server builds the HTTP API over the app's engines.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Config.HTTP, api.Services{
		Prices:   a.Prices,
		Tiers:    a.Tiers,
		Schedule: a.Schedule,
		Auctions: a.Auctions,
		Catalog:  a.Catalog,
	}, a.DB, a.Metrics)
}

// Serve runs the notification dispatcher, the scheduled triggers and the
// HTTP API until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.Dispatcher.Start()
	defer a.Dispatcher.Stop()

	if a.Config.Scheduler.Enabled {
		sched, err := scheduler.New(a.Config.Scheduler, scheduler.Jobs{
			Schedule: a.Schedule,
			Auctions: a.Auctions,
			Prices:   a.Prices,
		}, a.Clock, a.Metrics)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Stop(); err != nil {
				slog.Error("Failed to stop scheduler",
					slog.String("type", "error"),
					slog.String("error", err.Error()))
			}
		}()
	}

	if err := a.Server().Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

func (a *App) Close() {
	a.DB.Close()
}
