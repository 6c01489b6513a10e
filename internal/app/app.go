package app

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/skillforge/joblens/internal/cache"
	"github.com/skillforge/joblens/internal/common"
	"github.com/skillforge/joblens/internal/controller"
	"github.com/skillforge/joblens/internal/jobsapi"
	"github.com/skillforge/joblens/internal/livefeed"
	"github.com/skillforge/joblens/internal/scheduler"
	"github.com/skillforge/joblens/internal/signals"
	badgerstorage "github.com/skillforge/joblens/internal/storage/badger"
	"github.com/skillforge/joblens/internal/wsclient"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Client     *jobsapi.Client
	Manager    *wsclient.Manager
	Feed       *livefeed.Feed
	Signals    *signals.Tracker
	Store      *cache.Store
	Controller *controller.Controller
	Scheduler  *scheduler.Service

	DB      *badgerstorage.BadgerDB
	History *badgerstorage.HistoryStorage
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	app.Client = jobsapi.NewClient(cfg.API.BaseURL,
		jobsapi.WithLogger(logger),
		jobsapi.WithRateLimit(cfg.API.RateLimit),
		jobsapi.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout(jobsapi.DefaultTimeout)}),
	)

	app.Manager = wsclient.NewManager(cfg.Push.URL, logger,
		wsclient.WithHeartbeat(
			cfg.HeartbeatInterval(wsclient.DefaultHeartbeatInterval),
			cfg.PongTimeout(wsclient.DefaultPongTimeout),
		),
	)
	app.Feed = livefeed.NewFeed(app.Manager, logger)
	app.Signals = signals.NewTracker(logger)
	app.Store = cache.NewStore(logger, cache.WithFreshness(cfg.Freshness(cache.DefaultFreshness)))

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.History = badgerstorage.NewHistoryStorage(db, logger)

	app.Controller = controller.New(controller.Deps{
		Client:  app.Client,
		Store:   app.Store,
		Feed:    app.Feed,
		Signals: app.Signals,
		History: app.History,
		Logger:  logger,
	}, cfg.View.PageSize)

	if cfg.Refresh.Enabled {
		app.Scheduler = scheduler.NewService(app.Controller, logger)
		if err := app.Scheduler.Start(cfg.Refresh.Schedule); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start refresh scheduler: %w", err)
		}
	}

	return app, nil
}

// Close shuts components down in reverse initialization order.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.Controller != nil {
		a.Controller.Close()
	} else {
		if a.Feed != nil {
			a.Feed.Close()
		}
		if a.Signals != nil {
			a.Signals.Close()
		}
	}

	if a.Manager != nil {
		a.Manager.Close()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
			return err
		}
	}

	return nil
}
