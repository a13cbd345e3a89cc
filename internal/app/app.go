package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bond-alerts/internal/alerting"
	"bond-alerts/internal/config"
	"bond-alerts/internal/fetcher"
	"bond-alerts/internal/observability"
	"bond-alerts/internal/scheduler"
	"bond-alerts/internal/service"
	"bond-alerts/internal/state"
	"bond-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.SnapshotFetcher {
	return fetcher.NewSmartLab(fetcher.SmartLabOptions{
		BaseURL:   a.Config.Source.BaseURL,
		Timeout:   a.Config.Source.RequestTimeout,
		UserAgent: a.Config.Source.UserAgent,
		TopCount:  a.Config.Source.TopCount,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger)
	}
	return nil
}

func (a *App) newStateStore() *state.Store {
	return state.NewStore(a.Config.State.Path, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	// Without a delivery channel every detected candidate fails and state
	// never commits, so the watcher would spin in backoff doing nothing
	// useful. Refuse to start instead.
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel enabled: set alerting.telegram.enabled with bot_token and chat_id")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; history persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	metrics := observability.NewMetrics(nil)
	observability.Serve(ctx, a.Config.Metrics.ListenAddr, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		FailureBackoff: a.Config.Scheduler.FailureBackoff,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var sampleStore storage.SampleStore
	var alertStore storage.AlertStore
	if store != nil {
		sampleStore = store
		alertStore = store
	}

	svc := service.New(a.Config, sched, a.newFetcher(), a.newStateStore(), sampleStore, alertStore, notifier, metrics, a.Logger)

	a.Logger.Info().Msg("starting bond watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("bond watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting yield history.
type ExportOptions struct {
	ISIN      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
	// PruneOlderThan deletes alert audit rows older than the given age
	// before listing. Zero disables pruning.
	PruneOlderThan time.Duration
}
