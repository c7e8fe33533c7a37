package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"taskscheduler/internal/adapter/functions"
	"taskscheduler/internal/adapter/history"
	"taskscheduler/internal/adapter/httpapi"
	"taskscheduler/internal/adapter/notify"
	"taskscheduler/internal/adapter/taskfile"
	"taskscheduler/internal/config"
	"taskscheduler/internal/executor"
	"taskscheduler/internal/platform/httpclient"
	"taskscheduler/internal/platform/logger"
	"taskscheduler/internal/scheduler"
)

const (
	httpShutdownTimeout = 5 * time.Second
	alertQueueSize      = 64
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "taskscheduler",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the scheduler and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()
	a.log.Info("starting", slog.String("history", a.cfg.History.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.log.Error("close history", slog.Any("err", err))
			}
		}
	}()

	alerter, err := a.newAlerter()
	if err != nil {
		return err
	}
	var hooks scheduler.Hooks
	if alerter != nil {
		hooks.OnFinish = alerter.OnFinish
	}

	svc := scheduler.New(scheduler.Options{
		Logger:         a.log,
		TickInterval:   a.cfg.Scheduler.Tick,
		PoolSize:       a.cfg.Scheduler.PoolSize,
		DefaultTimeout: a.cfg.Scheduler.Timeout,
		ShutdownGrace:  a.cfg.Scheduler.ShutdownGrace,
		Location:       a.cfg.Location(),
		History:        store,
		Hooks:          hooks,
	})

	if err := a.start(ctx, svc, store, alerter); err != nil {
		return err
	}

	var srv *http.Server
	if a.cfg.HTTP.Addr != "" {
		srv = &http.Server{Addr: a.cfg.HTTP.Addr, Handler: httpapi.New(svc, a.log)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("server", slog.Any("err", err))
			}
		}()
		a.log.Info("api listening", slog.String("addr", a.cfg.HTTP.Addr))
	}

	<-ctx.Done()
	a.log.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server shutdown", slog.Any("err", err))
		}
		cancel()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Scheduler.ShutdownGrace+time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		a.log.Warn("scheduler stop", slog.Any("err", err))
	}
	if alerter != nil {
		if err := alerter.Stop(stopCtx); err != nil {
			a.log.Warn("alerter stop", slog.Any("err", err))
		}
	}
	a.log.Info("stopped")
	return nil
}

func (a *App) openHistory(ctx context.Context) (scheduler.HistoryStore, error) {
	switch a.cfg.History.Backend {
	case "sqlite":
		s, err := history.OpenSQLite(ctx, a.cfg.History.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := history.OpenPostgres(ctx, a.cfg.History.PostgresDSN, a.log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return scheduler.NewMemoryHistory(a.cfg.History.MemoryLimit), nil
	}
}

func (a *App) newAlerter() (*notify.Alerter, error) {
	if a.cfg.Telegram.Token == "" {
		return nil, nil
	}
	b, err := notify.NewTelegramBot(a.cfg.Telegram.Token, a.log)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	tg := notify.NewTelegram(b, a.cfg.Telegram.ChatID, a.cfg.Telegram.RatePerSec)
	return notify.NewAlerter(tg, a.log, alertQueueSize), nil
}

// start registers tasks and starts the scheduler. The alerter goroutine is
// started last, so a failed setup leaves nothing running. Alerts from runs
// that finish in between wait in its queue.
func (a *App) start(ctx context.Context, svc *scheduler.Service, store scheduler.HistoryStore, alerter *notify.Alerter) error {
	funcs := executor.NewFunctionRegistry()
	if err := functions.Register(funcs, functions.Options{FileRoot: a.cfg.FunctionsRoot}); err != nil {
		return err
	}
	if err := a.registerTasks(svc, funcs, store); err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	if alerter != nil {
		alerter.Start()
	}
	return nil
}

// registerTasks loads the task file and the history retention task.
func (a *App) registerTasks(svc *scheduler.Service, funcs *executor.FunctionRegistry, store scheduler.HistoryStore) error {
	if a.cfg.TasksFile != "" {
		f, err := taskfile.Load(a.cfg.TasksFile)
		if err != nil {
			return err
		}
		defs, err := f.Definitions(taskfile.Builder{
			Functions:   funcs,
			HTTPOptions: []httpclient.Option{httpclient.WithLogger(a.log)},
		})
		if err != nil {
			return err
		}
		for _, def := range defs {
			if err := svc.Register(def); err != nil {
				return err
			}
		}
		a.log.Info("task file loaded", slog.String("path", a.cfg.TasksFile), slog.Int("tasks", len(defs)))
	}

	if a.cfg.History.Retention <= 0 {
		return nil
	}
	pruner, ok := store.(scheduler.Pruner)
	if !ok {
		a.log.Warn("history backend cannot prune; retention disabled")
		return nil
	}
	task := newRetentionTask(a.cfg.History.RetentionSchedule, a.cfg.History.Retention, pruner, a.log)
	return svc.RegisterTask(retentionTaskID, "History retention", task)
}
