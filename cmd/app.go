package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/adwski/chat-relay/fanout"
	"github.com/adwski/chat-relay/identity"
	httpServer "github.com/adwski/chat-relay/server/http"
	websocketServer "github.com/adwski/chat-relay/server/websocket"
	"github.com/adwski/chat-relay/service"
	store "github.com/adwski/chat-relay/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := newConfig(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	svc := service.New(service.Config{
		Roster:      store.NewRoster(),
		Broadcaster: fanout.New(&logger, cfg.SubBuffer),
		Logger:      &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Occupancy:  svc,
		ListenAddr: cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Relay:      svc,
		Resolver:   identity.NewResolver([]byte(cfg.JWTSecret), &logger),
		ListenAddr: cfg.WSListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
