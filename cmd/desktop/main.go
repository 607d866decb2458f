// Package main runs the desktop server: a localhost REST and WebSocket API
// over the offline queue, sync engine and recording store.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/habitsync/internal/app"
	"github.com/kimhsiao/habitsync/internal/config"
	apperrors "github.com/kimhsiao/habitsync/internal/errors"
	"github.com/kimhsiao/habitsync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logging.ErrorWithCode("Desktop server failed", string(apperrors.CodeOf(err)), err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logCloser := app.SetupLogging(cfg)
	defer logCloser.Close()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.Init(ctx); err != nil {
		// Mutations fall back to direct remote writes while the store is down.
		logging.ErrorWithCode("Local store unavailable at startup", string(apperrors.CodeOf(err)), err)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", cfg.Port))
	if err != nil {
		return err
	}
	return serve(ctx, a, listener)
}

// serve runs the HTTP server, the event hub, the prober and the scheduler
// until ctx is done or one of them fails.
func serve(ctx context.Context, a *app.App, listener net.Listener) error {
	hub := NewWSHub()
	wireEvents(a, hub)

	srv := &http.Server{
		Handler:           NewRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gctx) })
	if a.Prober != nil {
		g.Go(func() error { return a.Prober.Run(gctx) })
	}

	a.Scheduler.Start(gctx)
	defer a.Scheduler.Stop()

	g.Go(func() error {
		logging.Info("Desktop server listening", map[string]interface{}{"addr": listener.Addr().String()})
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// wireEvents forwards sync and connectivity changes to WebSocket clients.
func wireEvents(a *app.App, hub *WSHub) {
	a.Engine.OnSyncComplete(func() {
		result := a.Engine.LastResult()
		pending, err := a.Engine.PendingChanges(context.Background(), a.Config.UserID)
		if err != nil {
			pending = -1
		}
		hub.BroadcastSyncCompleted(result.Success, result.Failed, result.Abandoned, pending)
	})
	a.Monitor.Subscribe(hub.BroadcastConnectivityChanged)
}
