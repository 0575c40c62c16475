package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskclock/internal/api"
	"taskclock/internal/config"
	httphandler "taskclock/internal/handlers/http"
	"taskclock/internal/handlers/shell"
	"taskclock/internal/jobs"
	"taskclock/internal/journal"
	"taskclock/internal/notify"
	"taskclock/internal/scheduler"
	"taskclock/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file (watched for changes)")
		addr    = flag.String("addr", ":8080", "HTTP bind address")
		dbPath  = flag.String("db", "taskclock.db", "SQLite DB path for the run journal")
		workers = flag.Int("workers", 8, "max concurrent executions (0 = unbounded)")
		mode    = flag.String("mode", "interval", "dispatch mode: interval or timeout")
		sweep   = flag.Duration("sweep", time.Second, "sweep interval in interval mode")
		natsURL = flag.String("nats-url", "", "NATS server URL; empty disables the event bridge")
		debug   = flag.Bool("debug", false, "enable pprof routes")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	// Flags given on the command line win over the config file, also on reload.
	overrides := func(cfg *config.Config) {
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "addr":
				cfg.Addr = *addr
			case "db":
				cfg.DB = *dbPath
			case "workers":
				cfg.Workers = *workers
			case "mode":
				cfg.Mode = *mode
			case "sweep":
				cfg.SweepInterval = config.Duration(*sweep)
			case "nats-url":
				cfg.NATS.URL = *natsURL
			case "debug":
				cfg.Debug = *debug
			}
		})
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	overrides(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	zerolog.SetGlobalLevel(cfg.Level())
	loc, _ := cfg.Location()

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DB)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := journal.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	runs := journal.NewSQLiteRepo(db)

	logger := log.Logger
	sched := scheduler.New(scheduler.Config{
		Logger:        &logger,
		Workers:       cfg.Workers,
		SweepInterval: cfg.SweepInterval.Std(),
		Location:      loc,
	})
	sched.Events().Subscribe(journal.Listener(runs, log.Logger))

	if cfg.NATS.URL != "" {
		nc, err := notify.Connect(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Error().Err(err).Str("url", cfg.NATS.URL).Msg("nats connect failed; event bridge disabled")
		} else {
			defer nc.Close()
			bridge := notify.NewBridge(nc, cfg.NATS.Subject, log.Logger)
			sched.Events().Subscribe(bridge.Listener())
			log.Info().Str("subject", bridge.Subject("*")).Msg("event bridge enabled")
		}
	}

	handlers := map[string]worker.Handler{
		"shell": shell.Shell{},
		"http":  httphandler.HTTP{},
	}
	catalog := jobs.NewCatalog(sched, handlers)
	for _, j := range cfg.Jobs {
		spec, _ := j.Spec()
		t, err := catalog.Create(spec)
		if err != nil {
			log.Error().Err(err).Str("job", j.Name).Msg("job not scheduled")
			continue
		}
		log.Info().Str("job", j.Name).Str("task_id", t.ID()).Time("next_execute", t.NextExecute()).Msg("job scheduled")
	}

	retention := cfg.Retention.Std()
	if retention > 0 {
		_, err := sched.NewInterval(func(ctx context.Context) (any, error) {
			return runs.Prune(ctx, time.Now().Add(-retention))
		}, time.Hour, scheduler.Options{
			Type: "journal.prune",
			OnDone: func(resp any, _ *scheduler.Result) {
				if n, _ := resp.(int); n > 0 {
					log.Info().Int("pruned", n).Msg("journal pruned")
				}
			},
			OnError: func(err error, _ *scheduler.Result) {
				log.Error().Err(err).Msg("journal prune failed")
			},
		})
		if err != nil {
			log.Fatal().Err(err).Msg("schedule journal prune")
		}
	}

	applyMode(sched, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *cfgPath != "" {
		go func() {
			err := config.Watch(ctx, *cfgPath, log.Logger, func(next config.Config) {
				overrides(&next)
				zerolog.SetGlobalLevel(next.Level())
				applyMode(sched, next)
			})
			if err != nil {
				log.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(api.Options{
		Scheduler:   sched,
		Catalog:     catalog,
		Runs:        runs,
		Logger:      log.Logger,
		EnableDebug: cfg.Debug,
	})}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	sched.Close()
}

func applyMode(sched *scheduler.Scheduler, cfg config.Config) {
	switch scheduler.Mode(cfg.Mode) {
	case scheduler.ModeTimeout:
		if sched.Mode() != scheduler.ModeTimeout {
			sched.UseTimeouts()
		}
	default:
		if sched.Mode() != scheduler.ModeInterval || sched.SweepInterval() != cfg.SweepInterval.Std() {
			sched.UseInterval(cfg.SweepInterval.Std())
		}
	}
}
