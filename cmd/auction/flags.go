package main

import (
	"fmt"

	"github.com/luxfi/auction/pkg/agent"
	"github.com/luxfi/auction/pkg/server"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	transportTCP       = "tcp"
	transportWebSocket = "ws"
)

func addServerFlags(fs *pflag.FlagSet) {
	def := server.DefaultConfig()
	fs.String("host", def.Host, "Interface to listen on")
	fs.Int("port", def.Port, "TCP port for bidding clients")
	fs.Int("http-port", def.HTTPPort, "HTTP port for /ws, /health and /metrics")
	fs.Bool("http", def.EnableHTTP, "Serve the HTTP endpoints")
	fs.Int("min-price", def.Price.Min, "Lowest generated price")
	fs.Int("max-price", def.Price.Max, "Highest generated price")
	fs.Duration("interval", def.Price.Interval, "Time between price broadcasts")
	fs.Duration("write-timeout", def.WriteTimeout, "Per-message send deadline (0 disables)")
	fs.String("nats-url", "", "Publish prices and decisions to this NATS server")
}

func serverConfig(v *viper.Viper) server.Config {
	c := server.DefaultConfig()
	c.Host = v.GetString("host")
	c.Port = v.GetInt("port")
	c.HTTPPort = v.GetInt("http-port")
	c.EnableHTTP = v.GetBool("http")
	c.Price.Min = v.GetInt("min-price")
	c.Price.Max = v.GetInt("max-price")
	c.Price.Interval = v.GetDuration("interval")
	c.WriteTimeout = v.GetDuration("write-timeout")
	return c
}

func addAgentFlags(fs *pflag.FlagSet, withAddr bool) {
	def := agent.DefaultConfig()
	fs.Int("min-budget", def.MinBudget, "Lowest personal budget per price")
	fs.Int("max-budget", def.MaxBudget, "Highest personal budget per price")
	fs.Int("target", def.Target, "Approved purchases before finishing")
	fs.String("transport", transportTCP, "Client transport (tcp or ws)")
	if withAddr {
		fs.String("addr", fmt.Sprintf("localhost:%d", server.DefaultPort), "Server TCP address")
		fs.String("ws-url", fmt.Sprintf("ws://localhost:%d/ws", server.DefaultHTTPPort), "Server WebSocket URL")
	}
}

func agentConfig(v *viper.Viper, id string) agent.Config {
	c := agent.DefaultConfig()
	if id != "" {
		c.ID = id
	}
	c.MinBudget = v.GetInt("min-budget")
	c.MaxBudget = v.GetInt("max-budget")
	c.Target = v.GetInt("target")
	return c
}

func validateTransport(t string) error {
	switch t {
	case transportTCP, transportWebSocket:
		return nil
	}
	return fmt.Errorf("unknown transport %q (want %s or %s)", t, transportTCP, transportWebSocket)
}
