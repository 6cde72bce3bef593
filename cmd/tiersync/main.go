package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/api"
	"github.com/tiersync/tiersync/internal/api/handler"
	"github.com/tiersync/tiersync/internal/core/ports"
	"github.com/tiersync/tiersync/internal/core/service"
	"github.com/tiersync/tiersync/internal/infrastructure/config"
	mongodb "github.com/tiersync/tiersync/internal/infrastructure/db/mongo"
	redisdb "github.com/tiersync/tiersync/internal/infrastructure/db/redis"
	"github.com/tiersync/tiersync/internal/infrastructure/discord"
	"github.com/tiersync/tiersync/internal/infrastructure/memory"
	"github.com/tiersync/tiersync/internal/infrastructure/notify"
	"github.com/tiersync/tiersync/internal/infrastructure/queue"
	"github.com/tiersync/tiersync/internal/infrastructure/scheduler"
	"github.com/tiersync/tiersync/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Init is a no-op returning the configured logger once run got that far.
		log := logger.Init(logger.Options{})
		log.Error().Err(err).Msg("tiersync stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
		Fields: map[string]string{"env": cfg.Env, "guild_id": cfg.Guild.ID},
	})

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	dir := discord.NewDirectory(session, cfg.Guild.ID)
	msg := discord.NewMessenger(session)
	ready := map[string]handler.Pinger{"discord": discord.NewPinger(session)}

	// --- Prompt correlation store ---
	var prompts ports.PromptStore = memory.NewPromptStore(cfg.Verify.PromptTTL)
	if cfg.Redis.Addr != "" {
		rdb, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		prompts = redisdb.NewPromptStore(rdb, cfg.Verify.PromptTTL)
		ready["redis"] = redisdb.Pinger{Client: rdb}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("prompt records stored in redis")
	}

	// --- Outcome audit ---
	var auditRepo ports.AuditRepository
	if cfg.Mongo.URI != "" {
		client, db, err := mongodb.Connect(ctx, mongodb.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		auditRepo = mongodb.NewAuditRepository(db)
		ready["mongodb"] = mongodb.Pinger{DB: db}
		log.Info().Str("database", cfg.Mongo.Database).Msg("outcomes persisted to mongodb")
	}
	logChannel := notify.NewLogChannel(msg, cfg.Guild.LogChannel, auditRepo, logger.Component("log_channel"))

	// --- Core services ---
	roles := cfg.PolicyRoles()
	reconciler := service.NewReconcileService(dir, msg, prompts, logChannel, service.ReconcileConfig{
		Roles:               roles,
		VerificationChannel: cfg.Guild.VerificationChannel,
		VerifyKeyword:       cfg.Verify.Keyword,
		SweepConcurrency:    cfg.Sweeps.Concurrency,
	}, logger.Component("reconcile"))
	verifier := service.NewVerifyService(dir, msg, prompts, logChannel, service.VerifyConfig{
		GuildID:           cfg.Guild.ID,
		Channel:           cfg.Guild.VerificationChannel,
		Keyword:           cfg.Verify.Keyword,
		Roles:             roles,
		ConfirmationDelay: cfg.Verify.ConfirmationDelay,
	}, logger.Component("verify"))

	// Workers outlive the shutdown signal until event intake is detached.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	// --- Event ingestion ---
	dispatcher := queue.NewDispatcher(cfg.DispatchWorkers, reconciler, logger.Component("dispatcher"))
	dispatcher.Start(workCtx)

	gateway := discord.NewGateway(cfg.Guild.ID, dispatcher, verifier, logger.Component("gateway"))
	detach := gateway.Register(workCtx, session)

	if err := session.Open(); err != nil {
		return err
	}

	// --- Sweeps ---
	sched := scheduler.New(logger.Component("scheduler"),
		scheduler.Job{Name: service.SweepPending, Interval: cfg.Sweeps.PendingInterval, Run: sweepJob(reconciler.SweepAllPending)},
		scheduler.Job{Name: service.SweepEntitlement, Interval: cfg.Sweeps.EntitlementInterval, Run: sweepJob(reconciler.SweepAllEntitlement)},
	)
	sched.Start(workCtx)

	// --- Ops server ---
	e := api.NewRouter(api.Deps{
		Log:       logger.Component("http"),
		JWTSecret: cfg.AdminJWTSecret,
		Ready:     ready,
		Sweeps:    sched,
		Directory: dir,
		Reconcile: reconciler,
		Audit:     auditRepo,
		Roles:     roles,
	})
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("ops server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serverErr:
		log.Error().Err(err).Msg("ops server failed")
	}

	shutdown(log, e.Shutdown, detach, stopWork, session.Close, sched, dispatcher, verifier, logChannel)
	return nil
}

func sweepJob(sweep func(context.Context) (ports.SweepReport, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := sweep(ctx)
		return err
	}
}

type waiter interface{ Wait() }

// shutdown stops intake first, then cancels the workers and drains
// in-flight work so no outcome is lost before the process exits. Handlers
// are detached before the workers stop so nothing enqueues into a dead
// dispatcher.
func shutdown(
	log zerolog.Logger,
	stopHTTP func(context.Context) error,
	detach func(),
	stopWork func(),
	closeSession func() error,
	sched, dispatcher, verifier, logChannel waiter,
) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := stopHTTP(ctx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown")
	}
	detach()
	stopWork()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		dispatcher.Wait()
		verifier.Wait()
		// Outcomes above may still be queued for the log channel.
		logChannel.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("drained")
	case <-ctx.Done():
		log.Warn().Msg("shutdown timed out with work in flight")
	}

	if err := closeSession(); err != nil {
		log.Warn().Err(err).Msg("discord session close")
	}
}
