package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/go-server/assets"
	"github.com/robalobadob/memory/go-server/internal/catalog"
	"github.com/robalobadob/memory/go-server/internal/config"
	"github.com/robalobadob/memory/go-server/internal/httpserver"
	"github.com/robalobadob/memory/go-server/internal/leaderboard"
	"github.com/robalobadob/memory/go-server/internal/levels"
	"github.com/robalobadob/memory/go-server/internal/storage"
	"github.com/robalobadob/memory/go-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := catalog.Init(cfg.IllustrationsFile); err != nil {
		log.Fatal().Err(err).Msg("failed to load illustration catalog")
	}
	lv, err := levels.Load(cfg.LevelsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load levels")
	}
	if err := levels.Validate(lv, catalog.Size()); err != nil {
		log.Fatal().Err(err).Msg("invalid level configuration")
	}

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, assets.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	srv := httpserver.New(store.NewMemoryStore(), leaderboard.NewStore(db), httpserver.Options{
		Levels:         lv,
		Catalog:        catalog.Entries(),
		ReversalDelay:  cfg.ReversalDelay,
		RequestTimeout: cfg.RequestTimeout,
		ClientOrigin:   cfg.ClientOrigin,
		CookieName:     cfg.CookieName,
		JWTSecret:      cfg.JWTSecret,
		Production:     cfg.Production(),
		DailySalt:      cfg.DailySalt,
		DailyLevel:     cfg.DailyLevel,
	})
	srv.StartJanitor(context.Background(), cfg.SessionSweepInterval, cfg.SessionTTL)
	log.Info().
		Str("port", cfg.Port).
		Int("levels", len(lv)).
		Int("illustrations", catalog.Size()).
		Msg("starting go-server")
	if err := srv.Start(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
