package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/microservice"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func (c *cli) newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and cache inspection endpoints",
		Long: "Serve /healthz, /metrics and /cache/{kind}/{id} until interrupted. " +
			"The cache endpoint reports what is cached without fetching. With " +
			"notices.subscription_id set, records changed elsewhere are dropped from the cache.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != "" {
				c.cfg.HTTPPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt := c.newRuntime()
			app, err := rt.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

			sub, err := rt.openSubscriber(ctx)
			if err != nil {
				return err
			}
			if sub != nil {
				defer func() { _ = sub.Stop() }()
			}

			server := microservice.NewBaseServer(c.logger, c.cfg.HTTPPort)
			server.HandleEntries(app.LookupEntry)
			if err := server.Start(); err != nil {
				return err
			}
			c.logger.Info().Str("port", server.GetHTTPPort()).Bool("notices", sub != nil).Msg("Status server ready.")

			<-ctx.Done()
			c.logger.Info().Msg("Shutdown signal received.")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen address, overriding http_port")
	return cmd
}
