package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/store"
)

// Daemon assembles the stores, hub, run manager and HTTP server and runs
// them until the context is cancelled.
type Daemon struct {
	settings *config.Settings
	apiKey   string
	version  string
	repo     store.Repository
	starter  AgentStarter
	logger   logging.Logger
	server   *http.Server
}

func New(settings *config.Settings, apiKey, version string, repo store.Repository, starter AgentStarter, logger logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Daemon{
		settings: settings,
		apiKey:   apiKey,
		version:  version,
		repo:     repo,
		starter:  starter,
		logger:   logger,
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	registry := NewInteractionRegistry(d.repo.Interactions())

	var notifier WaitingNotifier
	if d.settings.Notifications.Enabled {
		notifier = NewNotificationService(d.repo.Interactions(), d.repo.Devices(),
			NewLogNotificationDispatcher(d.logger), d.logger)
	}

	hub := NewRunHub(d.repo.Runs(), d.repo.Events(), notifier,
		d.settings.StreamSendBuffer(), d.settings.PingInterval(), d.logger)
	eventLog := NewEventLog(d.repo.Events(), hub)
	manager := NewRunManager(d.repo.Runs(), registry, eventLog, hub,
		d.starter, d.settings.GatingPolicy(), d.logger)

	if err := manager.Reconcile(ctx); err != nil {
		return err
	}

	api := &API{
		Version:  d.version,
		Manager:  manager,
		Registry: registry,
		Hub:      hub,
		Devices:  d.repo.Devices(),
		Logger:   d.logger,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	d.server = &http.Server{
		Addr:    d.settings.DaemonAddress(),
		Handler: APIKeyMiddleware(d.apiKey, mux),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := hub.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		sweeper := &TimeoutSweeper{
			Manager:  manager,
			Interval: sweepInterval(d.settings.HookTimeout()),
		}
		err := sweeper.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		d.logger.Info("daemon_listening", logging.F("addr", d.settings.DaemonAddress()))
		err := d.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func sweepInterval(hookTimeout time.Duration) time.Duration {
	interval := hookTimeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}
