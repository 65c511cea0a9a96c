package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/phalanx-mp/phalanx/actor"
	"github.com/phalanx-mp/phalanx/match"
	"github.com/phalanx-mp/phalanx/server"
	"github.com/phalanx-mp/phalanx/utils"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		fallbackLog := utils.NewLogger(utils.DefaultConfig())
		fallbackLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := utils.NewLogger(cfg)
	log.Info().
		Str("mode", cfg.GameMode.String()).
		Int("tickRate", cfg.TickRate).
		Int("port", cfg.Port).
		Msg("starting phalanx")

	engine := actor.NewEngine()
	bus := match.NewBus(log)

	matchmakerPID := engine.Spawn(actor.NewProps(match.NewMatchmakerProducer(engine, cfg, bus, log)))
	if matchmakerPID == nil {
		log.Fatal().Msg("failed to spawn matchmaker")
	}

	srv := server.NewServer(cfg, engine, matchmakerPID, nil, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	// Stop accepting new connections first, then let every match announce
	// match-end through its own shutdown path.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	engine.Shutdown(5 * time.Second)
	log.Info().Msg("stopped")
}
