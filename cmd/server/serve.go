package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	escrowhandler "umoja/internal/escrow/handler"
	escrowservice "umoja/internal/escrow/service"
	escrowmemory "umoja/internal/escrow/store/memory"
	escrowpostgres "umoja/internal/escrow/store/postgres"
	"umoja/internal/events"
	outboxmemory "umoja/internal/events/store/memory"
	outboxpostgres "umoja/internal/events/store/postgres"
	"umoja/internal/evidence"
	evidencememory "umoja/internal/evidence/store/memory"
	evidences3 "umoja/internal/evidence/store/s3"
	govhandler "umoja/internal/governance/handler"
	govservice "umoja/internal/governance/service"
	govmemory "umoja/internal/governance/store/memory"
	govpostgres "umoja/internal/governance/store/postgres"
	"umoja/internal/identity"
	jwttoken "umoja/internal/jwt_token"
	"umoja/internal/ledger"
	"umoja/internal/platform/httpserver"
	"umoja/internal/platform/kafka"
	"umoja/internal/platform/metrics"
	"umoja/internal/platform/postgres"
	"umoja/internal/platform/redis"
	"umoja/internal/platform/tracing"
	"umoja/internal/policy"
	rewardshandler "umoja/internal/rewards/handler"
	rewardsmodels "umoja/internal/rewards/models"
	rewardsservice "umoja/internal/rewards/service"
	rewardsmemory "umoja/internal/rewards/store/memory"
	rewardspostgres "umoja/internal/rewards/store/postgres"
	httptransport "umoja/internal/transport/http"
	verificationhandler "umoja/internal/verification/handler"
	verificationservice "umoja/internal/verification/service"
	"umoja/pkg/domain"
	"umoja/pkg/platform/circuit"
	txcontext "umoja/pkg/platform/tx"
)

const txTimeout = 10 * time.Second

// stores groups the persistence backends chosen by configuration.
type stores struct {
	governance govservice.Store
	escrow     escrowservice.Store
	outbox     events.Outbox
	rewards    rewardsservice.Store
	tx         txcontext.Runner
}

func loadPolicies(path string) (*policy.Registry, error) {
	if path == "" {
		return policy.NewRegistry(policy.DefaultPolicies())
	}
	registry, err := policy.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return registry, nil
}

func openStores(ctx context.Context, log *slog.Logger) (stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, using in-memory stores")
		return stores{
			governance: govmemory.New(),
			escrow:     escrowmemory.New(),
			outbox:     outboxmemory.New(),
			rewards:    rewardsmemory.New(),
			tx:         txcontext.LocalRunner{},
		}, nil, nil
	}
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return stores{}, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return stores{}, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return stores{
		governance: govpostgres.New(db),
		escrow:     escrowpostgres.New(db),
		outbox:     outboxpostgres.New(db),
		rewards:    rewardspostgres.New(db),
		tx:         txcontext.NewSQLRunner(db, txTimeout),
	}, db, nil
}

func openDirectory(ctx context.Context, log *slog.Logger) (identity.Directory, *redis.Client, error) {
	var static *identity.Static
	if cfg.IdentityFile == "" {
		log.Warn("no identity file configured, directory is empty")
		static = identity.NewStatic()
	} else {
		loaded, err := identity.LoadStatic(cfg.IdentityFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load identity directory: %w", err)
		}
		static = loaded
	}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if rc == nil {
		return static, nil, nil
	}
	return identity.NewCache(static, rc.Client, cfg.Redis.IdentityTTL, log), rc, nil
}

func openEvidence(ctx context.Context) (evidence.Store, error) {
	if cfg.Evidence.S3Bucket == "" {
		return evidencememory.New(), nil
	}
	store, err := evidences3.NewFromConfig(ctx, cfg.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to configure evidence bucket: %w", err)
	}
	return store, nil
}

func serveRun(parent context.Context, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, programName)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	policies, err := loadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}
	st, db, err := openStores(ctx, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	directory, rc, err := openDirectory(ctx, log)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}
	evidenceStore, err := openEvidence(ctx)
	if err != nil {
		return err
	}

	m := metrics.New()

	adapter := ledger.NewGuarded(ledger.NewSimulated(),
		ledger.WithRateLimit(cfg.Escrow.LedgerRatePerSecond, cfg.Escrow.LedgerBurst),
		ledger.WithTimeout(cfg.Escrow.LedgerTimeout),
		ledger.WithBreaker(circuit.New("ledger")),
		ledger.WithGuardLogger(log),
		ledger.WithGuardMetrics(m),
	)

	governance := govservice.New(st.governance, policies, directory, st.outbox,
		govservice.WithLogger(log),
		govservice.WithMetrics(m),
		govservice.WithTx(st.tx),
		govservice.WithGracePeriod(cfg.Governance.GracePeriod),
		govservice.WithOCCAttempts(cfg.Governance.OCCAttempts),
		govservice.WithMaxVotingPower(cfg.Governance.MaxVotingPower),
	)
	escrow := escrowservice.New(st.escrow, governance, adapter, st.outbox,
		escrowservice.WithLogger(log),
		escrowservice.WithMetrics(m),
		escrowservice.WithTx(st.tx),
		escrowservice.WithOCCAttempts(cfg.Escrow.OCCAttempts),
		escrowservice.WithRetryPolicy(cfg.Escrow.RetryBudget, cfg.Escrow.RetryInitialBackoff, cfg.Escrow.RetryMaxBackoff),
	)
	verification := verificationservice.New(escrow, directory, evidenceStore,
		verificationservice.WithLogger(log),
		verificationservice.WithMaxEvidenceBytes(cfg.Evidence.MaxBytes),
	)
	accruer := rewardsservice.New(st.rewards, directory, rewardsmodels.Rates{
		ContributionRateBP: cfg.Rewards.ContributionRateBP,
		VerificationReward: cfg.Rewards.VerificationReward,
		VoteReward:         cfg.Rewards.VoteReward,
		ElderMultiplierBP:  cfg.Rewards.ElderMultiplierBP,
	},
		rewardsservice.WithLogger(log),
		rewardsservice.WithMetrics(m),
		rewardsservice.WithRetryPolicy(cfg.Rewards.MaxAttempts, time.Second, 5*time.Minute),
	)

	g, gctx := errgroup.WithContext(ctx)

	bus := events.NewBus(log)
	var publisher events.Publisher = bus
	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, ConsumerGroup: cfg.Kafka.ConsumerGroup}
		producer, err := kafka.NewProducerClient(kcfg)
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			return fmt.Errorf("failed to ensure kafka topic: %w", err)
		}
		consumerClient, err := kafka.NewConsumerClient(kcfg)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		defer consumerClient.Close()

		router := kafka.NewRouter(log)
		router.Register(events.HandlerFunc(accruer.Accrue), rewardsservice.Types()...)
		consumer := kafka.NewConsumer(consumerClient, router,
			kafka.WithConsumerLogger(log),
			kafka.WithHandlerRetries(uint64(cfg.Rewards.MaxAttempts), time.Second),
		)
		g.Go(func() error { return consumer.Run(gctx) })

		publisher = events.MultiPublisher{kafka.NewPublisher(producer, cfg.Kafka.Topic)}
		log.Info("event feed on kafka", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	} else if db != nil {
		// a failed accrual fails the relay flush, which leaves the batch in the outbox
		bus.Subscribe(events.HandlerFunc(accruer.Accrue), rewardsservice.Types()...)
	} else {
		bus.Subscribe(accruer, rewardsservice.Types()...)
	}
	relay := events.NewRelay(st.outbox, publisher,
		events.WithRelayLogger(log),
		events.WithRelayMetrics(m),
		events.WithRelayTx(st.tx),
	)

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["database"] = db.PingContext
	}
	if rc != nil {
		checks["redis"] = rc.Health
	}
	verificationHandler := verificationhandler.New(verification, log, cfg.Evidence.MaxBytes)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Metrics:   m,
		Validator: jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer),
		Handlers: []httptransport.Registrar{
			govhandler.New(governance, log),
			escrowhandler.New(escrow, log, escrowhandler.WithLedgerPrincipal(domain.UserID(cfg.Escrow.LedgerPrincipal))),
			verificationHandler,
			rewardshandler.New(accruer, log),
		},
		Uploads:        []httptransport.Registrar{httptransport.RegistrarFunc(verificationHandler.RegisterUploads)},
		HealthChecks:   checks,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g.Go(func() error {
		log.Info("starting umoja", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return governance.RunSweeper(gctx, cfg.Governance.SweepInterval) })
	g.Go(func() error { return escrow.RunRetrier(gctx, cfg.Escrow.RetryInterval) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return accruer.Run(gctx, cfg.Rewards.RetryInterval) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
