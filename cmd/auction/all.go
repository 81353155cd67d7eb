package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	defaultClients = 3
	defaultStagger = time.Second
)

func newAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Run the server and a fixed number of clients in one process",
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

			transport := v.GetString("transport")
			if err := validateTransport(transport); err != nil {
				return err
			}
			clients := v.GetInt("clients")
			if clients < 1 {
				return fmt.Errorf("need at least one client, got %d", clients)
			}
			stagger := v.GetDuration("stagger")

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv, closeEvents, err := buildServer(v, logger)
			if err != nil {
				return err
			}
			defer closeEvents()

			logger.Info("Starting server and clients", "clients", clients, "transport", transport)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})

			if err := waitReady(gctx, srv); err != nil {
				return g.Wait()
			}

			target := srv.Addr()
			if transport == transportWebSocket {
				target = "ws://" + srv.HTTPAddr() + "/ws"
			}

			for i := 1; i <= clients; i++ {
				config := agentConfig(v, fmt.Sprintf("Client-%d", i))
				g.Go(func() error {
					// client failures stay local to that client
					if err := runAgent(gctx, config, transport, target, logger); err != nil {
						logger.Warn("Client stopped", "client", config.ID, "error", err)
					}
					return nil
				})

				if i < clients {
					select {
					case <-time.After(stagger):
					case <-gctx.Done():
						return g.Wait()
					}
				}
			}

			logger.Info("System started")
			return g.Wait()
		},
	}

	addServerFlags(cmd.Flags())
	addAgentFlags(cmd.Flags(), false)
	cmd.Flags().Int("clients", defaultClients, "Number of clients to launch")
	cmd.Flags().Duration("stagger", defaultStagger, "Delay between client starts")
	return cmd
}
