package main

import (
	"context"
	"fmt"

	"github.com/luxfi/auction/pkg/events"
	"github.com/luxfi/auction/pkg/server"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the purchase server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(v)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv, closeEvents, err := buildServer(v, logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			return srv.Run(ctx)
		},
	}

	addServerFlags(cmd.Flags())
	return cmd
}

// buildServer wires the server and, when configured, its NATS feed
func buildServer(v *viper.Viper, logger log.Logger) (*server.Server, func(), error) {
	var opts []server.Option
	closeEvents := func() {}

	if url := v.GetString("nats-url"); url != "" {
		pub, err := events.NewNATSPublisher(url, logger)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, server.WithPublisher(pub))
		closeEvents = pub.Close
	}

	srv, err := server.New(serverConfig(v), logger, opts...)
	if err != nil {
		closeEvents()
		return nil, nil, fmt.Errorf("create server: %w", err)
	}
	return srv, closeEvents, nil
}

// waitReady blocks until srv is bound or ctx ends
func waitReady(ctx context.Context, srv *server.Server) error {
	select {
	case <-srv.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
