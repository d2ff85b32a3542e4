package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Nudger/internal/config/token-janitor"
	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/obs"
	"github.com/NordCoder/Nudger/internal/repository/kafka"
	pg "github.com/NordCoder/Nudger/internal/repository/postgres"
	janitor "github.com/NordCoder/Nudger/internal/services/token-janitor"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) (*janitor.Controller, *janitor.PurgeJob) {
	tokens := pg.NewTokenRepo(db)

	uc := &janitor.Handler{
		Tokens:     tokens,
		Deregister: cfg.Janitor.Deregister,
		Log:        l,
	}
	job := &janitor.PurgeJob{
		Tokens:          tokens,
		Outbox:          pg.NewOutboxRepo(db),
		StaleAfter:      cfg.Janitor.StaleAfter,
		OutboxRetention: cfg.Janitor.OutboxRetention,
		Timeout:         cfg.Janitor.PurgeTimeout,
		Clock:           notification.SystemClock{},
		Log:             l.With(zap.String("component", "purge")),
	}
	return &janitor.Controller{Log: l, Sub: cons, UC: uc}, job
}

func main() {
	cfgPath := flag.String("config", "config/token-janitor.yaml", "path to config file")
	flag.Parse()

	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting token-janitor",
		zap.Any("kafka_in", cfg.In),
		zap.String("purge_cron", cfg.Janitor.PurgeCron),
		zap.Bool("deregister", cfg.Janitor.Deregister),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// metrics + health
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, db.Ping, l)
	var hs *obs.HealthServer
	if cfg.Server.HealthAddr != "" {
		hs = obs.NewHealthServer(db.Ping, l)
		go func() {
			if err := hs.Serve(rootCtx, cfg.Server.HealthAddr, 5*time.Second); err != nil {
				l.Error("grpc health server", zap.Error(err))
			}
		}()
	}

	// kafka
	cons := kafka.BootstrapConsumer(rootCtx, &cfg.In, cfg.Topic, l).WithLogger(l)
	defer func() { _ = cons.Close() }()
	l.Info("kafka consumer initialized",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("group_id", cfg.In.GroupID),
		zap.String("topic", cfg.In.Topic),
	)

	ctrl, job := wiring(db, cfg, cons, l)

	// cron
	loc, _ := time.LoadLocation(cfg.Janitor.TimeZone)
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := job.Schedule(rootCtx, c, cfg.Janitor.PurgeCron); err != nil {
		l.Fatal("schedule purge", zap.Error(err))
	}
	c.Start()

	// start
	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	// main loop
	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-shCtx.Done():
		l.Warn("purge still running at shutdown")
	}
	if hs != nil {
		hs.Stop()
	}
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
