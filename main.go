package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	verbose bool
	logger  *zap.Logger
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studyplanner",
		Short: "Generate day-by-day study schedules with a Gemini agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newPlanCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI (and the queue workers when RABBITMQ_URL is set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, logger, cfg.QueueEnabled())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.serve(ctx)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume plan jobs from RabbitMQ",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.QueueEnabled() {
				return fmt.Errorf("%w: set RABBITMQ_URL", ErrQueueDisabled)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer app.Close()

			app.logger.Info("starting consumer pool", zap.Int("workers", cfg.Workers))
			return app.workerConfig().StartConsumerWorkerPool(ctx, cfg.Workers)
		},
	}
}

func loadConfig() (Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// App owns the connections shared by every command.
type App struct {
	cfg     Config
	logger  *zap.Logger
	store   PlanStore
	archive Archive
	planner *Planner
	db      *sql.DB
	rabbit  *amqp.Connection
}

func newApp(ctx context.Context, cfg Config, log *zap.Logger, withQueue bool) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: log}

	generator, err := NewAgentGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.DBURL != "":
		store, db, err := NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		app.store, app.db = store, db
		log.Info("using postgres plan store")
	case cfg.SQLitePath != "":
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		app.store, app.db = NewSQLiteStore(db), db
		log.Info("using sqlite plan store", zap.String("path", cfg.SQLitePath))
	default:
		app.store = NewMemoryStore()
		log.Info("using in-memory plan store")
	}

	if cfg.R2.Enabled() {
		archive, err := NewR2Archive(ctx, cfg.R2)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.archive = archive
	}

	if withQueue {
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("error connecting to RabbitMQ: %w", err)
		}
		app.rabbit = conn
	}

	app.planner = NewPlanner(PlannerConfig{
		Generator: generator,
		Store:     app.store,
		Archive:   app.archive,
		Clock:     NewSystemClock(cfg.Location),
		Logger:    log,
		MaxDays:   cfg.MaxPlanDays,
		Timeout:   cfg.Timeout,
	})
	return app, nil
}

func (a *App) Close() {
	if a.rabbit != nil {
		_ = a.rabbit.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) workerConfig() *WorkerConfig {
	wc := &WorkerConfig{
		Planner:    a.planner,
		Store:      a.store,
		Archive:    a.archive,
		RabbitConn: a.rabbit,
		Logger:     a.logger,
		Location:   a.cfg.Location,
	}
	if a.rabbit != nil {
		wc.Updates = NewRabbitQueue(a.rabbit)
	}
	return wc
}

// serve runs the HTTP server, and the worker pool when a broker is
// connected, until ctx is done or one of them fails.
func (a *App) serve(ctx context.Context) error {
	serverCfg := ServerConfig{
		Planner:        a.planner,
		Store:          a.store,
		Archive:        a.archive,
		Logger:         a.logger,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		Location:       a.cfg.Location,
	}
	if a.rabbit != nil {
		serverCfg.Queue = NewRabbitQueue(a.rabbit)
	}
	server, err := NewServer(serverCfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("listening", zap.String("addr", a.cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if a.rabbit != nil {
		g.Go(func() error {
			a.logger.Info("starting consumer pool", zap.Int("workers", a.cfg.Workers))
			return a.workerConfig().StartConsumerWorkerPool(gctx, a.cfg.Workers)
		})
	}
	return g.Wait()
}
