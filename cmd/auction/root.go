package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "AUCTION"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "auction",
		Short:         "Auction purchase coordinator",
		Long:          "auction runs a price-broadcasting purchase server, bidding clients, or both in one process.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Optional config file (yaml, toml or json)")

	rootCmd.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newAllCmd(),
	)

	return rootCmd
}

// loadConfig binds the command's flags into a fresh viper instance so
// every flag can also come from AUCTION_* variables or the config file.
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func newLogger(v *viper.Viper) (log.Logger, error) {
	level, err := log.ToLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", v.GetString("log-level"), err)
	}
	return log.NewTestLogger(level), nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
