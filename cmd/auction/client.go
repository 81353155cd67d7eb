package main

import (
	"context"
	"fmt"

	"github.com/luxfi/auction/pkg/agent"
	"github.com/luxfi/auction/pkg/conn"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [name]",
		Short: "Run one bidding client",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var name string
			if len(args) > 0 {
				name = args[0]
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			target := v.GetString("addr")
			if transport == transportWebSocket {
				target = v.GetString("ws-url")
			}
			return runAgent(ctx, agentConfig(v, name), transport, target, logger)
		},
	}

	addAgentFlags(cmd.Flags(), true)
	return cmd
}

// runAgent connects to the server and drives one agent to completion
func runAgent(ctx context.Context, config agent.Config, transport, target string, logger log.Logger) error {
	var (
		ch  conn.Channel
		err error
	)
	if transport == transportWebSocket {
		ch, err = conn.DialWebSocket(ctx, target)
	} else {
		ch, err = conn.Dial(ctx, target)
	}
	if err != nil {
		logger.Error("Connection failed", "client", config.ID, "error", err)
		return err
	}

	ag, err := agent.New(config, ch, nil, logger)
	if err != nil {
		ch.Close()
		return err
	}

	if err := ag.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", config.ID, err)
	}

	st := ag.Stats()
	logger.Info("Client done",
		"client", config.ID,
		"prices", st.Prices,
		"bids", st.Bids,
		"approved", st.Approved,
		"denied", st.Denied)
	return nil
}
