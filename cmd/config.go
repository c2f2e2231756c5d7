package main

import (
	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

type config struct {
	APIListenAddr string `env:"RELAY_API_ADDR" envDefault:":8080"`
	WSListenAddr  string `env:"RELAY_WS_ADDR" envDefault:":8888"`
	LogLevel      string `env:"RELAY_LOG_LEVEL" envDefault:"debug"`
	JWTSecret     string `env:"RELAY_JWT_SECRET"`
	SubBuffer     int    `env:"RELAY_SUB_BUFFER" envDefault:"64"`
}

// newConfig resolves settings from the environment first, then lets
// command line flags override them. The JWT secret has no flag and can
// only come from the environment.
func newConfig(args []string) (*config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	fs := pflag.NewFlagSet("chat-relay", pflag.ContinueOnError)
	fs.StringVarP(&cfg.APIListenAddr, "api-listen-addr", "a", cfg.APIListenAddr,
		"occupancy api listen address")
	fs.StringVarP(&cfg.WSListenAddr, "ws-listen-addr", "w", cfg.WSListenAddr,
		"websocket relay listen address")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel,
		"log level")
	fs.IntVarP(&cfg.SubBuffer, "sub-buffer", "b", cfg.SubBuffer,
		"per subscriber outbound buffer size")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &cfg, nil
}
