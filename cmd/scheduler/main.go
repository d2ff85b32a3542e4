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

	config "github.com/NordCoder/Nudger/internal/config/scheduler"
	"github.com/NordCoder/Nudger/internal/content"
	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/NordCoder/Nudger/internal/obs"
	"github.com/NordCoder/Nudger/internal/obs/retry"
	outboxrunner "github.com/NordCoder/Nudger/internal/outbox"
	"github.com/NordCoder/Nudger/internal/push"
	kafkaRepo "github.com/NordCoder/Nudger/internal/repository/kafka"
	pg "github.com/NordCoder/Nudger/internal/repository/postgres"
	redisRepo "github.com/NordCoder/Nudger/internal/repository/redis"
	"github.com/NordCoder/Nudger/internal/services/dispatcher"
	"github.com/NordCoder/Nudger/internal/services/scheduler"
	"github.com/NordCoder/Nudger/internal/services/scheduler/repo"

	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "config/scheduler.yaml", "path to config file")
	flag.Parse()

	// init
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting scheduler",
		zap.Duration("interval", cfg.Sched.Interval),
		zap.Int("workers", cfg.Sched.Workers),
		zap.String("gateway", cfg.Gateway.Driver),
		zap.Bool("leader_lock", cfg.Leader.Enable),
		zap.Bool("kafka", cfg.Kafka.Enable),
		zap.String("metrics_addr", cfg.Sched.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	prefs := pg.NewPreferenceRepo(db, loc)
	tokens := pg.NewTokenRepo(db)
	tx := pg.NewTransactor(db, l)

	// push gateway + content
	gw, err := push.New(ctx, cfg.Gateway, l)
	if err != nil {
		l.Fatal("push gateway", zap.Error(err))
	}
	quotes, err := content.NewQuoteProvider(cfg.Content, l)
	if err != nil {
		l.Fatal("content provider", zap.Error(err))
	}

	recorder := repo.Recorder{Tx: tx, Prefs: prefs}
	health := []obs.HealthFunc{db.Ping}

	// kafka + outbox relay
	var relay *outboxrunner.Runner
	if cfg.Kafka.Enable {
		prod := kafkaRepo.BootstrapProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
		defer func() { _ = prod.Close() }()

		outboxRepo := pg.NewOutboxRepo(db)
		recorder.Outbox = outboxRepo

		events := kafkaRepo.NewDeliveryEventsKafka(prod)
		relay = outboxrunner.NewOutboxRunner(l, outboxRepo,
			outboxrunner.MakeGlobalOutboxHandler(events, retry.PublishPolicy(l)),
			cfg.Outbox,
		)
		relay.Start(ctx)
		l.Info("outbox relay started",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic.Name),
		)
	}

	// leader
	var leader scheduler.Leader = scheduler.AlwaysLeader{}
	if cfg.Leader.Enable {
		rc, err := redisRepo.NewClient(ctx, cfg.Leader.Config)
		if err != nil {
			l.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = rc.Close() }()
		lock := redisRepo.NewLock(rc, cfg.Leader.Key, cfg.Leader.TTL, l)
		leader = lock
		health = append(health, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		l.Info("leader lock enabled", zap.String("key", cfg.Leader.Key), zap.String("owner", lock.Owner()))
	}

	// wiring
	uc := &scheduler.Usecase{
		Prefs:         prefs,
		Tokens:        tokens,
		Content:       quotes,
		Dispatch:      dispatcher.New(gw, cfg.Sched.Config, l),
		Recorder:      recorder,
		Clock:         notification.SystemClock{},
		Log:           l,
		Workers:       cfg.Sched.Workers,
		RecordTimeout: cfg.Sched.RecordTimeout,
	}
	runner := scheduler.New(l, uc, leader, cfg.Sched.Interval)
	if cfg.Leader.Enable {
		runner.WithLeaseRenewal(cfg.Leader.TTL / 3)
	}

	// metrics + health
	healthCheck := obs.CombineHealth(health...)
	ms := obs.BootstrapMetricsServer(cfg.Sched.MetricsAddr, healthCheck, l)
	var hs *obs.HealthServer
	if cfg.Sched.HealthAddr != "" {
		hs = obs.NewHealthServer(healthCheck, l)
		go func() {
			if err := hs.Serve(ctx, cfg.Sched.HealthAddr, 5*time.Second); err != nil {
				l.Error("grpc health server", zap.Error(err))
			}
		}()
	}

	// run
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()
	l.Info("scheduler started")

	// loop
	select {
	case <-ctx.Done():
		l.Info("shutdown signal")
		select {
		case <-errCh:
		case <-time.After(cfg.Sched.RecordTimeout + 5*time.Second):
			l.Warn("runner did not stop in time")
		}
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
		stop()
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if relay != nil {
		relay.Wait()
	}
	if hs != nil {
		hs.Stop()
	}
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
