package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/theatre-ops/internal/alerts"
	"github.com/t77yq/theatre-ops/internal/api"
	"github.com/t77yq/theatre-ops/internal/audit"
	"github.com/t77yq/theatre-ops/internal/clinical"
	"github.com/t77yq/theatre-ops/internal/clock"
	"github.com/t77yq/theatre-ops/internal/config"
	"github.com/t77yq/theatre-ops/internal/model"
	"github.com/t77yq/theatre-ops/internal/monitor"
	"github.com/t77yq/theatre-ops/internal/notify"
	"github.com/t77yq/theatre-ops/internal/storage"
	"github.com/t77yq/theatre-ops/internal/stream"
)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

func main() {
	configPath := flag.String("config", "./config", "directory containing config.yaml")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Open the shared store
	store, err := storage.Open(logger, cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()

	alertStore := storage.NewSQLiteAlertStore(logger, store)
	notificationStore := storage.NewSQLiteNotificationStore(logger, store)

	// Connect to the audit bus. The service degrades to a nop publisher
	// when NATS is unreachable: audit is a side effect, not a gate on
	// safety-critical writes.
	auditPublisher := connectAudit(cfg, logger)

	metrics := monitor.NewMetrics()
	health := monitor.NewHealthCollector(logger)
	clk := clock.Real{}

	// Clinical collaborators. Real deployments point these at the
	// hospital record, staff directory and blood bank systems.
	cases := clinical.NewMemoryCaseDirectory()
	staff := clinical.NewMemoryStaffDirectory()
	blood := clinical.NewMemoryBloodBank()

	policy := alerts.AudiencePolicy{
		Initial:    toRoles(cfg.Alerts.InitialAudience),
		Escalation: toRoles(cfg.Alerts.EscalationAudience),
	}

	notifier := notify.NewNotifier(notificationStore, metrics, clk, logger)
	promoter := notify.NewPromoter(notificationStore, metrics, clk, cfg.Timeline.LookaheadWindow, logger)

	manager := alerts.NewManager(alerts.ManagerConfig{
		Alerts:   alertStore,
		Cases:    cases,
		Staff:    staff,
		Blood:    blood,
		Notifier: notifier,
		Audit:    auditPublisher,
		Metrics:  metrics,
		Clock:    clk,
		Policy:   policy,
	}, logger)

	sweeper := alerts.NewSweeper(alerts.SweeperConfig{
		Alerts:   alertStore,
		Staff:    staff,
		Notifier: notifier,
		Audit:    auditPublisher,
		Metrics:  metrics,
		Clock:    clk,
		Deadline: cfg.Alerts.EscalationDeadline,
		Audience: policy.Escalation,
	}, logger)

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Background jobs: the sweeper and the timeline promoter run on
	// independent cadences. cron.Recover keeps a panicking tick from
	// killing subsequent ticks.
	cronLog := &cronLogger{logger: logger.Named("cron")}
	jobs := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLog)))

	if _, err := jobs.AddFunc(everySpec(cfg.Alerts.SweepInterval), func() {
		sweeper.Run(ctx)
	}); err != nil {
		logger.Fatal("Failed to schedule sweeper", zap.Error(err))
	}
	if _, err := jobs.AddFunc(everySpec(cfg.Timeline.PromoteInterval), func() {
		promoter.RunOnce(ctx)
	}); err != nil {
		logger.Fatal("Failed to schedule timeline promoter", zap.Error(err))
	}
	jobs.Start()

	hub := stream.NewHub(notificationStore, promoter, metrics, clk,
		cfg.Stream.PollInterval, cfg.Stream.HeartbeatInterval, logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(manager, notifier, hub, health, metrics, cfg.Alerts.EscalationDeadline, logger),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	cronCtx := jobs.Stop()
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached, background jobs may not have completed")
	}

	logger.Info("Server shutting down gracefully")
}

// connectAudit connects to NATS with retry and builds the JetStream audit
// publisher; on failure it returns a nop publisher
func connectAudit(cfg *config.Config, logger *zap.Logger) audit.Publisher {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < 3; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Warn("Audit bus unreachable, audit entries will be dropped", zap.Error(err))
		return audit.NopPublisher{}
	}

	js, err := nc.JetStream()
	if err != nil {
		logger.Warn("Failed to create JetStream context, audit entries will be dropped", zap.Error(err))
		return audit.NopPublisher{}
	}

	publisher, err := audit.NewJetStreamPublisher(js, logger)
	if err != nil {
		logger.Warn("Failed to create audit publisher, audit entries will be dropped", zap.Error(err))
		return audit.NopPublisher{}
	}

	logger.Info("Connected to audit bus", zap.String("url", nc.ConnectedUrl()))
	return publisher
}

// everySpec renders a duration as a cron @every spec
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

func toRoles(names []string) []model.Role {
	roles := make([]model.Role, 0, len(names))
	for _, name := range names {
		roles = append(roles, model.Role(name))
	}
	return roles
}
