// Package app wires the ledger service together and manages its lifecycle:
// stores, safety components, HTTP server, background sweeps and the async
// audit/alert queues, started and drained in dependency order.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/satsboard/ledger-service/internal/alert"
	"github.com/satsboard/ledger-service/internal/approval"
	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/config"
	"github.com/satsboard/ledger-service/internal/httpapi"
	"github.com/satsboard/ledger-service/internal/killswitch"
	"github.com/satsboard/ledger-service/internal/limits"
	"github.com/satsboard/ledger-service/internal/metrics"
	"github.com/satsboard/ledger-service/internal/middleware"
	"github.com/satsboard/ledger-service/internal/payment"
	"github.com/satsboard/ledger-service/internal/pipeline"
	"github.com/satsboard/ledger-service/internal/ratelimit"
	"github.com/satsboard/ledger-service/internal/reconcile"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/internal/storage/memory"
	"github.com/satsboard/ledger-service/internal/storage/postgres"
	"github.com/satsboard/ledger-service/internal/threshold"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Stores groups the persistence interfaces the application runs on. All five
// are normally backed by the same implementation.
type Stores struct {
	Accounts  storage.AccountStore
	Ledger    storage.LedgerStore
	Approvals storage.ApprovalStore
	Audit     storage.AuditStore
	Kill      storage.KillSwitchStore
}

// Application owns the assembled service and its lifecycle.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	db      *sql.DB
	redis   *redis.Client
	audit   *audit.Log
	alerts  *alert.Dispatcher
	sweeper *reconcile.Sweeper
	server  *http.Server

	Service *pipeline.Service
	Metrics *metrics.Metrics
}

// New builds the application. Payments is the Lightning executor; pass nil to
// refuse all payments (useful for maintenance deployments).
func New(cfg *config.Config, payments payment.Executor, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}

	app := &Application{cfg: cfg, log: log}

	stores, err := app.openStores()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	app.Metrics = m

	notifiers := []alert.Notifier{alert.NewLogNotifier(log)}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.Alerts.WebhookURL, nil))
	}
	app.alerts = alert.NewDispatcher(log, notifiers...)
	app.audit = audit.New(stores.Audit, log)
	m.RegisterQueueDepthGauge("audit_events_dropped", "Audit events dropped because the queue was full.", app.audit.Dropped)
	m.RegisterQueueDepthGauge("alerts_dropped", "Alerts dropped because the queue was full.", app.alerts.Dropped)

	kill := killswitch.New(stores.Kill, log)
	checker := reconcile.NewChecker(stores.Accounts, stores.Ledger, app.alerts, log)
	guard := threshold.NewGuard(cfg.Policy.ThresholdConfig(), stores.Ledger, kill, app.alerts, log, nil)
	engine := limits.NewEngine(cfg.Policy.Limits, stores.Ledger, nil)
	queue := approval.NewQueue(stores.Approvals, stores.Ledger, app.audit, log, nil)
	app.sweeper = reconcile.NewSweeper(checker, app.alerts, cfg.Reconcile.SweepSchedule, log)

	var windows ratelimit.WindowStore
	if cfg.Redis.Addr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		windows = ratelimit.NewRedisStore(app.redis, "ledger")
	} else {
		windows = ratelimit.NewMemoryStore(nil)
	}

	if payments == nil {
		payments = refuseAllExecutor{}
	}

	app.Service = pipeline.NewService(pipeline.Config{
		Accounts:   stores.Accounts,
		Store:      stores.Ledger,
		Limiter:    ratelimit.New(windows),
		Kill:       kill,
		Reconciler: checker,
		Limits:     engine,
		Guard:      guard,
		Approvals:  queue,
		Payments:   payment.WithTimeout(payments, cfg.Payment.Timeout),
		Audit:      app.audit,
		Metrics:    m,
		Log:        log,
		WithdrawPolicies: []ratelimit.Policy{
			{MaxRequests: cfg.Policy.RateLimit.WithdrawPerMinute, Window: time.Minute},
			{MaxRequests: cfg.Policy.RateLimit.WithdrawPerHour, Window: time.Hour},
		},
		TransferPolicies: []ratelimit.Policy{
			{MaxRequests: cfg.Policy.RateLimit.TransferPerMinute, Window: time.Minute},
			{MaxRequests: cfg.Policy.RateLimit.TransferPerHour, Window: time.Hour},
		},
	})

	api := httpapi.New(httpapi.Config{
		Service:    app.Service,
		Accounts:   stores.Accounts,
		Store:      stores.Ledger,
		Reconciler: checker,
		Approvals:  queue,
		Kill:       kill,
		Metrics:    m,
		Log:        log,
	})
	router := api.Router()
	router.Method(http.MethodGet, "/metrics", m.Handler())

	edge := middleware.NewIPRateLimiter(cfg.Server.EdgeRPS, cfg.Server.EdgeBurst, log)
	app.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      edge.Middleware(middleware.RequestID(log)(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app, nil
}

func (a *Application) openStores() (Stores, error) {
	if a.cfg.Database.DSN == "" {
		a.log.Warn("no database configured, using the in-memory store")
		mem := memory.New()
		return Stores{Accounts: mem, Ledger: mem, Approvals: mem, Audit: mem, Kill: mem}, nil
	}

	db, err := sql.Open("postgres", a.cfg.Database.DSN)
	if err != nil {
		return Stores{}, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return Stores{}, fmt.Errorf("ping database: %w", err)
	}

	if a.cfg.Database.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			return Stores{}, fmt.Errorf("run migrations: %w", err)
		}
	}

	a.db = db
	pg := postgres.New(db)
	return Stores{Accounts: pg, Ledger: pg, Approvals: pg, Audit: pg, Kill: pg}, nil
}

// Run starts everything and blocks until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	a.audit.Start()
	a.alerts.Start()
	if err := a.sweeper.Start(); err != nil {
		return fmt.Errorf("start reconciliation sweep: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops the HTTP server, the sweep and drains the async queues.
func (a *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutdown http server: %w", err)
	}

	a.sweeper.Stop()
	if err := a.audit.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.alerts.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	return firstErr
}

// refuseAllExecutor denies every payment. It backs deployments that must not
// move money, such as a read-only maintenance window.
type refuseAllExecutor struct{}

func (refuseAllExecutor) Pay(context.Context, string, int64) (payment.Result, error) {
	return payment.Result{}, fmt.Errorf("no payment executor configured")
}
