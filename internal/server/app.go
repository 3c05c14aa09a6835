// Package server wires configuration, storage, the session service and the
// HTTP surface together and runs them until the context is cancelled or a
// termination signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/cryptox"
	"github.com/dmitrijs2005/hostauth/internal/logging"
	"github.com/dmitrijs2005/hostauth/internal/server/auth"
	"github.com/dmitrijs2005/hostauth/internal/server/config"
	"github.com/dmitrijs2005/hostauth/internal/server/events"
	"github.com/dmitrijs2005/hostauth/internal/server/httpapi"
	"github.com/dmitrijs2005/hostauth/internal/server/metrics"
	"github.com/dmitrijs2005/hostauth/internal/server/services"
	"github.com/dmitrijs2005/hostauth/internal/timex"
	"golang.org/x/sync/errgroup"
)

// eventSource is the CloudEvents source attribute of published events.
const eventSource = "hostauth"

type App struct {
	config    *config.Config
	logger    logging.Logger
	backend   *backend
	publisher events.Publisher
	sessions  *services.SessionService
	handler   http.Handler
}

// NewApp builds the application for c, logging to stdout.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, os.Stdout, cryptox.DefaultParams)
}

func newApp(ctx context.Context, c *config.Config, logOut io.Writer, params cryptox.Argon2Params) (*App, error) {
	logger, err := logging.New(logOut, logging.Options{
		Backend: c.LogBackend,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	codec, err := auth.NewCodec([]byte(c.SecretKey), c.Issuer, c.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	b, err := openBackend(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if len(c.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(c.KafkaBrokers, c.KafkaTopic, eventSource)
		logger.Info(ctx, "publishing session events", "topic", c.KafkaTopic)
	}

	m := metrics.New(nil)
	dir := services.NewUserDirectory(b.users, params)
	sessions := services.NewSessionService(dir, b.tokens, codec, timex.SystemClock{}, publisher, logger, m,
		services.SessionOptions{RevokeLineageOnReuse: c.RevokeLineageOnReuse})

	if err := services.SeedAdmin(ctx, dir, b.users, c.AdminUsername, c.AdminPassword, logger); err != nil {
		b.close()
		return nil, err
	}

	srv := httpapi.New(httpapi.Deps{
		Sessions: sessions,
		Accounts: dir,
		Logger:   logger,
		Metrics:  m,
		Health:   b.health,
	})

	return &App{
		config:    c,
		logger:    logger,
		backend:   b,
		publisher: publisher,
		sessions:  sessions,
		handler:   srv.Handler(),
	}, nil
}

// Handler is the routed HTTP handler.
func (app *App) Handler() http.Handler { return app.handler }

// Run serves HTTP on the configured address and runs the cleanup loop until
// ctx is done or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	ln, err := net.Listen("tcp", app.config.HTTPAddr)
	if err != nil {
		app.close(ctx)
		return fmt.Errorf("listen %s: %w", app.config.HTTPAddr, err)
	}
	return app.serve(ctx, ln)
}

func (app *App) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info(gctx, "http server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(context.Background(), "shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if app.config.CleanupInterval > 0 {
		g.Go(func() error {
			app.cleanupLoop(gctx, app.config.CleanupInterval)
			return nil
		})
	}

	err := g.Wait()
	app.close(context.Background())
	return err
}

// cleanupLoop purges expired refresh tokens every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (app *App) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.sessions.DeleteExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					app.logger.Warn(ctx, "expired token cleanup failed", "error", err)
				}
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "expired refresh tokens deleted", "count", n)
			}
		}
	}
}

func (app *App) close(ctx context.Context) {
	if err := app.publisher.Close(); err != nil {
		app.logger.Warn(ctx, "closing event publisher", "error", err)
	}
	if err := app.backend.close(); err != nil {
		app.logger.Warn(ctx, "closing storage", "error", err)
	}
	app.logger.Info(ctx, "shutdown complete")
}
