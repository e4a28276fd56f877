package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"beatstore/internal/server"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the webhook retry loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.NewServer(a.orders, a.downloads, a.webhooks, a.blobs, server.Options{
		JWTSecret: a.cfg.Auth.JWTSecret,
	}, a.log)

	go a.webhooks.RunRetryLoop(ctx, a.cfg.Webhook.RetryInterval, a.cfg.Webhook.BatchSize)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(a.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	a.log.Info("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info("waiting for license generation to finish")
	return nil
}
