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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"taskboard/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task board over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := a.openStore(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer closeStore()

			sessions, closeSessions, err := a.sessions()
			if err != nil {
				return err
			}
			defer closeSessions()

			e := echo.New()
			e.HideBanner = true
			e.Server.BaseContext = func(net.Listener) context.Context { return ctx }
			e.Use(middleware.Recover())
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins:     []string{a.cfg.PublicURL},
				AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
				AllowCredentials: true,
			}))
			api.Register(e, store, sessions, api.Options{
				BaseURL: a.cfg.PublicURL,
				Logger:  a.log,
			})

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := e.Shutdown(shutdownCtx); err != nil {
					a.log.WithError(err).Warn("shutdown")
				}
			}()

			a.log.WithField("addr", a.cfg.ListenAddr).Info("taskboard listening")
			if err := e.Start(a.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
