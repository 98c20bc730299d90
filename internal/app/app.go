// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/bissquit/incident-escalator/internal/config"
	"github.com/bissquit/incident-escalator/internal/domain"
	"github.com/bissquit/incident-escalator/internal/escalation"
	"github.com/bissquit/incident-escalator/internal/ingest"
	"github.com/bissquit/incident-escalator/internal/notifications"
	"github.com/bissquit/incident-escalator/internal/notifications/slack"
	"github.com/bissquit/incident-escalator/internal/notifications/sms"
	"github.com/bissquit/incident-escalator/internal/pkg/metrics"
	"github.com/bissquit/incident-escalator/internal/pkg/postgres"
	"github.com/bissquit/incident-escalator/internal/scheduler"
	"github.com/bissquit/incident-escalator/internal/secrets"
	"github.com/bissquit/incident-escalator/internal/statusfeed"
	"github.com/bissquit/incident-escalator/internal/store"
	"github.com/bissquit/incident-escalator/internal/store/memory"
	storepostgres "github.com/bissquit/incident-escalator/internal/store/postgres"
	"github.com/bissquit/incident-escalator/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	startupTimeout   = time.Minute
	dbMetricsPeriod  = 15 * time.Second
	readinessTimeout = 2 * time.Second
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	repo          store.Repository
	ingest        *ingest.Service
	scheduler     *scheduler.Scheduler
	checks        map[string]pinger
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New wires the store, the status feed, the dispatcher and both loops.
// Nothing runs until Run is called.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	app := &App{
		config: cfg,
		logger: logger,
		checks: make(map[string]pinger),
	}

	repo, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}
	app.repo = repo
	app.checks["store"] = repo

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		app.closeDB()
		return nil, err
	}

	secretSource, err := newSecretSource(cfg, awsCfg)
	if err != nil {
		app.closeDB()
		return nil, err
	}
	creds, err := secrets.Load(ctx, secretSource, secrets.Names, secrets.SlackBotToken)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	dispatcher, renderer, err := newDispatcher(cfg, creds, awsCfg)
	if err != nil {
		app.closeDB()
		return nil, err
	}
	app.checks["chat"] = dispatcher

	feed := statusfeed.NewClient(statusfeed.Config{
		BaseURL:   cfg.Feed.BaseURL,
		Timeout:   cfg.Feed.Timeout,
		UserAgent: cfg.Feed.UserAgent,
	})
	app.checks["feed"] = feed

	app.ingest = ingest.NewService(ingest.Config{
		MaxRetries: cfg.Ingest.MaxRetries,
		FeedName:   cfg.Feed.Name,
	}, repo, feed)

	engine := escalation.NewEngine(escalation.Config{
		Tiers:            buildTiers(cfg.Escalation, creds),
		ReminderInterval: cfg.Escalation.ConcludeActionTimeout,
		OnCall:           cfg.Escalation.OnCall,
	}, repo, feed, dispatcher, renderer)

	app.scheduler = scheduler.New(logger)
	if err := app.scheduler.AddTask("ingest", cfg.Ingest.Interval, app.ingest.RunCycle); err != nil {
		app.closeDB()
		return nil, fmt.Errorf("schedule ingest: %w", err)
	}
	if err := app.scheduler.AddTask("escalation", cfg.Escalation.Interval, engine.RunCycle); err != nil {
		app.closeDB()
		return nil, fmt.Errorf("schedule escalation: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel
	if app.db != nil {
		go metrics.CollectDBPool(metricsCtx, app.db, dbMetricsPeriod)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("application configured",
		"version", version.Version,
		"store", cfg.Store.Driver,
		"test_mode", cfg.TestMode,
		"channel", cfg.Channel(),
		"ingest_interval", cfg.Ingest.Interval,
		"escalation_interval", cfg.Escalation.Interval,
	)

	return app, nil
}

// Run starts the scheduled loops and the HTTP servers. It blocks until the
// main server stops.
func (a *App) Run() error {
	a.scheduler.Start()

	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the loops first so no cycle is cut short by a closed pool,
// then the HTTP servers, then the database.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	a.metricsCancel()

	var wg sync.WaitGroup
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeDB()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) openStore(ctx context.Context) (store.Repository, error) {
	if a.config.Store.Driver == "memory" {
		a.logger.Warn("using in-memory store: records are lost on restart")
		return memory.NewRepository(), nil
	}

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             a.config.Database.URL,
		MaxConns:        a.config.Database.MaxConns,
		MinConns:        a.config.Database.MinConns,
		MaxConnLifetime: a.config.Database.MaxConnLifetime,
		ConnectAttempts: a.config.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.db = db

	if a.config.Database.Migrate {
		if err := postgres.Migrate(a.config.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	tables := store.ResolveTables(a.config.TestMode, a.config.Store.IncidentsTable, a.config.Store.EscalationsTable)
	a.logger.Info("using postgres store", "incidents_table", tables.Incidents, "escalations_table", tables.Escalations)

	return storepostgres.NewRepository(db, tables), nil
}

func (a *App) closeDB() {
	if a.db != nil {
		a.db.Close()
	}
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	if !cfg.UsesAWS() {
		return aws.Config{}, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func newSecretSource(cfg *config.Config, awsCfg aws.Config) (secrets.Source, error) {
	switch cfg.Secrets.Provider {
	case "aws":
		return secrets.NewAWSSource(secretsmanager.NewFromConfig(awsCfg), cfg.Secrets.Prefix), nil
	case "file":
		src, err := secrets.NewFileSource(cfg.Secrets.File)
		if err != nil {
			return nil, fmt.Errorf("open secrets file: %w", err)
		}
		return src, nil
	default:
		src, err := secrets.NewEnvSource()
		if err != nil {
			return nil, fmt.Errorf("read secrets from environment: %w", err)
		}
		return src, nil
	}
}

func newDispatcher(cfg *config.Config, creds secrets.Secrets, awsCfg aws.Config) (*notifications.Dispatcher, *notifications.Renderer, error) {
	chat, err := slack.NewClient(slack.Config{
		Token:     creds[secrets.SlackBotToken],
		APIURL:    cfg.Slack.APIURL,
		Timeout:   cfg.Slack.Timeout,
		RateLimit: cfg.Slack.RateLimit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create slack client: %w", err)
	}

	var publisher sms.Publisher
	if cfg.SMS.Enabled {
		publisher = sns.NewFromConfig(awsCfg)
	}
	smsSender, err := sms.NewSender(sms.Config{
		Enabled:   cfg.SMS.Enabled,
		SenderID:  cfg.SMS.SenderID,
		SMSType:   cfg.SMS.SMSType,
		RateLimit: cfg.SMS.RateLimit,
	}, publisher)
	if err != nil {
		return nil, nil, fmt.Errorf("create sms sender: %w", err)
	}
	if !cfg.SMS.Enabled {
		slog.Warn("sms sender is disabled: tier pages will only be posted to chat")
	}

	renderer, err := notifications.NewRenderer(cfg.Feed.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("create notification renderer: %w", err)
	}

	return notifications.NewDispatcher(chat, smsSender, cfg.Channel(), renderer), renderer, nil
}

// buildTiers returns the escalation ladder in paging order.
func buildTiers(cfg config.EscalationConfig, creds secrets.Secrets) []domain.Tier {
	return []domain.Tier{
		{
			Name:        "devops_manager",
			Status:      domain.EscalationDevOps,
			DisplayName: creds[secrets.DevOpsManagerNickname],
			Phone:       creds[secrets.DevOpsManagerPhone],
			After:       cfg.AcknowledgeTimeout,
		},
		{
			Name:        "director",
			Status:      domain.EscalationDirector,
			DisplayName: creds[secrets.DirectorNickname],
			Phone:       creds[secrets.DirectorPhone],
			After:       cfg.CancelNextEscalationTimeout,
		},
	}
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
