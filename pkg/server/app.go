package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OutlierScope/internal/service/ratelimit"
	"OutlierScope/pkg/config"
	xhttp "OutlierScope/pkg/http"
	pkgkafka "OutlierScope/pkg/kafka"
	applogger "OutlierScope/pkg/logger"
	"OutlierScope/pkg/queue"
)

// App owns the long-running parts of the service. Optional parts are nil when
// disabled in config. Infrastructure clients are closed by the injector cleanup.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	consumer   *pkgkafka.Consumer
	handler    pkgkafka.MessageHandler
	queue      *queue.RedisQueue
	limiter    *ratelimit.Limiter

	sweepStop chan struct{}
}

func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	handler pkgkafka.MessageHandler,
	q *queue.RedisQueue,
	limiter *ratelimit.Limiter,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		consumer:   consumer,
		handler:    handler,
		queue:      q,
		limiter:    limiter,
		sweepStop:  make(chan struct{}),
	}
}

// Start launches every enabled component without blocking.
func (a *App) Start() error {
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil && a.handler != nil {
		a.consumer.RegisterHandler(a.handler)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.handler.Topic()))
	}

	if a.limiter != nil {
		go a.limiter.RunSweeper(time.Minute, a.sweepStop)
	}

	return a.httpServer.Start()
}

// Run starts the app and blocks until a signal arrives or the listener fails.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		a.log.Error("start failed", applogger.Error(err))
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case runErr = <-a.httpServer.Err():
	}
	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Shutdown stops intake first, then the workers, then flushes collected logs.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("job queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	select {
	case <-a.sweepStop:
	default:
		close(a.sweepStop)
	}

	a.log.Info("shutdown complete")
	a.log.RemoveCollector()
	return errors.Join(errs...)
}
