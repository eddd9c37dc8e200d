package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gavel-live/gavel/internal/auction"
	"github.com/gavel-live/gavel/internal/budget"
	"github.com/gavel-live/gavel/internal/catalog"
	"github.com/gavel-live/gavel/internal/gateway"
	"github.com/gavel-live/gavel/internal/session"
	"github.com/gavel-live/gavel/internal/stream"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := getEnv("CONFIG_PATH", "config.yaml")
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("using default configuration")
		cfg = defaultConfig()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Player catalog
	var cat catalog.Catalog
	var pgCatalog *catalog.PostgresCatalog
	switch cfg.Catalog.Source {
	case "postgres":
		dbCfg := databaseConfigFromEnv()
		pgCatalog, err = catalog.NewPostgresCatalog(ctx, dbCfg.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect player catalog")
		}
		cat = pgCatalog
	default:
		cat = catalog.NewStaticCatalog(cfg.Catalog.Players)
	}

	ledger := budget.NewLedger(cfg.Auction.DefaultBudget)
	registry := gateway.NewRegistry(gateway.DefaultConnectionConfig())

	// Optional event stream mirror
	var publisher stream.Publisher = stream.NoopPublisher{}
	if cfg.Stream.Enabled {
		jsCfg := stream.DefaultJetStreamConfig()
		jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)
		publisher, err = stream.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event stream")
		}
	}
	tee := stream.NewTee(registry, publisher)

	mgr := session.NewManager(session.Config{
		Auction: auction.Config{
			StartingBid:    cfg.Auction.StartingBid,
			BidIncrement:   cfg.Auction.BidIncrement,
			DurationSec:    cfg.Auction.DurationSec,
			SnipeWindowSec: cfg.Auction.SnipeWindowSec,
		},
	}, tee, cat, ledger, clockwork.NewRealClock())
	registry.SetHandler(mgr)

	for _, roomCfg := range cfg.Rooms {
		if _, err := mgr.CreateRoom(roomCfg); err != nil {
			log.Error().Err(err).Str("room_id", roomCfg.ID).Msg("failed to seed room")
		}
	}

	go registry.Run(ctx)
	go tee.Run(ctx)

	wsHandler := gateway.NewHandler(registry, mgr)
	srv := setupServer(wsHandler, mgr)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("auction server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	mgr.Shutdown()
	publisher.Close()
	if pgCatalog != nil {
		pgCatalog.Close()
	}
}
