package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/api"
	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/scheduler"
	"refi-rate-alerts/internal/service"
	"refi-rate-alerts/internal/storage"
	"refi-rate-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output.
	Out io.Writer

	source fetcher.RateSource
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFRED() *fetcher.FRED {
	ua := a.Config.FRED.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewFRED(fetcher.FREDOptions{
		BaseURL:           a.Config.FRED.BaseURL,
		APIKey:            a.Config.FRED.APIKey,
		Timeout:           a.Config.FRED.RequestTimeout,
		RequestsPerMinute: a.Config.FRED.RequestsPerMinute,
		UserAgent:         ua,
	}, a.Logger)
}

func (a *App) rateSource() fetcher.RateSource {
	if a.source != nil {
		return a.source
	}
	return a.newFRED()
}

func (a *App) newEmailProvider() alerting.EmailProvider {
	if a.Config.Email.Provider == config.EmailProviderResend {
		return alerting.NewResendProvider(alerting.ResendOptions{
			APIKey:    a.Config.Email.APIKey,
			From:      a.Config.Email.From,
			BaseURL:   a.Config.Email.BaseURL,
			Timeout:   a.Config.Email.RequestTimeout,
			UserAgent: version.UserAgent(),
		}, a.Logger)
	}
	return alerting.NewLogProvider(a.Logger)
}

func (a *App) newDigest() alerting.DigestPoster {
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, timeout, a.Logger)
}

// openStore connects to the configured backend. SQLite databases are
// migrated on open since nothing else manages their schema.
func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.Driver == config.DriverSQLite {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *App) newService(store storage.Store) *service.Service {
	notifier := alerting.NewNotifier(store, a.newEmailProvider(), a.Config.Monitor.BodyPreviewLen, a.Logger)
	return service.New(a.Config, store, a.rateSource(), notifier, a.newDigest(), a.Logger)
}

// withService opens the store, builds the lifecycle manager and runs fn.
func (a *App) withService(ctx context.Context, fn func(*service.Service) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(a.newService(store))
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Serve runs the HTTP API and the daily scheduler until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		Schedule:     a.Config.Scheduler.Schedule,
		Location:     loc,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	svc := a.newService(store)
	if a.Config.API.Token == "" {
		a.Logger.Warn().Msg("api.token not configured; user routes will reject every request")
	}
	server := api.NewServer(a.Config.API, api.NewHandler(api.Deps{
		Service:   svc,
		Token:     a.Config.API.Token,
		CronToken: a.Config.API.CronToken,
	}), a.Logger)

	a.Logger.Info().
		Str("schedule", a.Config.Scheduler.Schedule).
		Str("timezone", loc.String()).
		Str("series", svc.Series()).
		Msg("starting refinance monitor")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return sched.Run(gctx, func(ctx context.Context, _ time.Time) error {
			_, err := svc.RunAllActive(ctx)
			return err
		})
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("refinance monitor stopped")
	return nil
}

// RunDaily evaluates every active session once, as the scheduler would.
func (a *App) RunDaily(ctx context.Context) error {
	return a.withService(ctx, func(svc *service.Service) error {
		batch, err := svc.RunAllActive(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(batch)
	})
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("migrations applied")
	return nil
}

// SendTestEmail sends a diagnostic message to the user's address.
func (a *App) SendTestEmail(ctx context.Context, userID string) error {
	return a.withService(ctx, func(svc *service.Service) error {
		res, err := svc.SendTestEmail(ctx, userID)
		if err != nil {
			return err
		}
		return a.printJSON(map[string]any{"sent": res.Sent, "provider_message_id": res.ProviderID})
	})
}

// ExportOptions hold parameters for exporting rate history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// UserID, when set, draws that user's benchmark threshold on the chart.
	UserID string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
