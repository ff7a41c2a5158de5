package main

import (
	"context"
	"fmt"
	"log/slog"

	"salonbook/backend/internal/config"
	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/notify"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/bookings"
	"salonbook/backend/internal/service/recurrence"
	"salonbook/backend/internal/service/waitlist"
	"salonbook/backend/internal/store"
	"salonbook/backend/internal/store/memory"
	"salonbook/backend/internal/store/postgres"
)

// app holds the wired scheduling services for one process.
type app struct {
	availability *availability.Service
	bookings     *bookings.Lifecycle
	waitlist     *waitlist.Matcher
	series       *recurrence.Expander
	dispatcher   *notify.Dispatcher
	close        func()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, store.ServiceCatalog, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		st := memory.New()
		for id, minutes := range cfg.Services {
			st.PutService(domain.ServiceDefinition{ID: id, Name: id, DurationMinutes: minutes, Active: true})
		}
		log.Warn("using in-memory store; data is lost on exit", slog.Int("services", len(cfg.Services)))
		return st, st, func() {}, nil
	case "postgres":
		log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
			log.Error("database connection failed", args...)
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		}
		return postgres.NewStore(db), postgres.NewCatalog(db), closeFn, nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	mode, err := waitlist.ParseMode(cfg.WaitlistMode)
	if err != nil {
		return nil, err
	}

	st, catalog, closeFn, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(log), notify.NewLogCalendar(log), notify.DispatcherOptions{
		QueueSize: cfg.NotifyQueueSize,
		Workers:   cfg.NotifyWorkers,
		Logger:    log,
	})

	av := availability.NewService(st, catalog, availability.Options{
		Location:    cfg.Timezone,
		Granularity: cfg.SlotGranularity,
		MaxRange:    cfg.MaxRange,
		Cache:       availability.NewCache(cfg.CacheTTL, cfg.CacheMaxEntries, nil),
	})
	lc := bookings.NewLifecycle(st, catalog, bookings.Options{
		Location:     cfg.Timezone,
		Notifier:     dispatcher,
		Calendar:     dispatcher,
		Logger:       log,
		FreedTimeout: cfg.WaitlistMatchTimeout,
	})
	wl := waitlist.NewMatcher(st, catalog, lc, av, waitlist.Options{
		Mode:          mode,
		DefaultExpiry: cfg.WaitlistExpiry,
		Notifier:      dispatcher,
		Logger:        log,
	})
	lc.Subscribe(wl)
	av.OnCapacityAdded(wl)

	rx := recurrence.NewExpander(st, catalog, lc, wl, recurrence.Options{
		Location:       cfg.Timezone,
		MaxOccurrences: cfg.MaxOccurrences,
		Logger:         log,
	})

	return &app{
		availability: av,
		bookings:     lc,
		waitlist:     wl,
		series:       rx,
		dispatcher:   dispatcher,
		close:        closeFn,
	}, nil
}
