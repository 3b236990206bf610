package main // Entry point package

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/audit"
	"github.com/iliyamo/cohort-seat-sync/internal/config"
	"github.com/iliyamo/cohort-seat-sync/internal/database"
	"github.com/iliyamo/cohort-seat-sync/internal/directory"
	"github.com/iliyamo/cohort-seat-sync/internal/dirsync"
	"github.com/iliyamo/cohort-seat-sync/internal/handler"
	"github.com/iliyamo/cohort-seat-sync/internal/lock"
	"github.com/iliyamo/cohort-seat-sync/internal/logger"
	"github.com/iliyamo/cohort-seat-sync/internal/middleware"
	"github.com/iliyamo/cohort-seat-sync/internal/provider"
	"github.com/iliyamo/cohort-seat-sync/internal/queue"
	"github.com/iliyamo/cohort-seat-sync/internal/reconcile"
	"github.com/iliyamo/cohort-seat-sync/internal/repository"
	"github.com/iliyamo/cohort-seat-sync/internal/router"
	"github.com/iliyamo/cohort-seat-sync/internal/scheduler"
	"github.com/iliyamo/cohort-seat-sync/internal/seating"
	"github.com/iliyamo/cohort-seat-sync/internal/service"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn().Msg("redis unavailable, rate limiting and read caching disabled")
	}

	// Repositories over the shared store.
	sections := repository.NewSectionRepo(db)
	groups := repository.NewGroupRepo(db)
	meetings := repository.NewMeetingRepo(db)
	seats := repository.NewSeatRepo(db)
	syncQueue := repository.NewSyncQueueRepo(db)
	locks := repository.NewLockRepo(db)
	audits := repository.NewAuditRepo(db)

	// External collaborators.
	roster := provider.NewHTTPRoster(cfg.RosterBaseURL)
	contexts := provider.NewHTTPContextDirectory(cfg.ContextBaseURL)
	dirClient := directory.NewHTTPClient(cfg.DirectoryBaseURL)

	recorder := audit.NewRecorder(audits)

	engine := reconcile.New(reconcile.Config{
		Sections:    sections,
		Groups:      groups,
		Meetings:    meetings,
		Seats:       seats,
		Queue:       syncQueue,
		Roster:      roster,
		Contexts:    contexts,
		Audit:       recorder,
		Log:         log,
		Destructive: cfg.DestructiveDelete,
	})
	machine := seating.NewMachine(seats, recorder, cfg.EditWindow)

	svc := &service.Service{
		Sections: sections,
		Groups:   groups,
		Meetings: meetings,
		Seats:    seats,
		Queue:    syncQueue,
		Locks:    locks,
		Engine:   engine,
		Seating:  machine,
		Audit:    recorder,
		Roster:   roster,
		Log:      log,
		Publish:  queue.PublishCohortSynced,
	}

	// The background loop owns one lock manager so its re-entrancy guard is
	// scoped to this worker.
	schedLock := lock.NewManager(locks, log)
	drainer := dirsync.NewConsumer(syncQueue, groups, sections, dirClient, schedLock, recorder, log, cfg.QueueBatch)
	loop := scheduler.New(scheduler.Options{
		Tick:                 cfg.Tick,
		RosterScanEvery:      cfg.RosterScanEvery,
		EligibilityScanEvery: cfg.EligibilityScanEvery,
		DirtyBatch:           cfg.DirtyBatch,
		TickBudget:           cfg.TickBudget,
		DedupeSize:           cfg.DedupeCacheSize,
	}, sections, engine, schedLock, drainer, roster, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go loop.Run(ctx)
	go func() {
		if err := queue.StartSyncConsumer(); err != nil {
			log.Warn().Err(err).Msg("cohort event consumer exited")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, handler.New(svc), router.Options{
		JWTSecret: cfg.JWTSecret,
		Redis:     rdb,
		RateLimit: middleware.RateLimit{
			Capacity: cfg.RateCapacity,
			Refill:   cfg.RateRefill,
			Interval: cfg.RateInterval,
		},
		CacheTTL: cfg.CacheTTL,
	})

	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
