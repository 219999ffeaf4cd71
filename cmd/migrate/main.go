package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/studykeeper/internal/logging"
	"github.com/dmitrijs2005/studykeeper/internal/server/config"
	"github.com/dmitrijs2005/studykeeper/internal/server/repositories/repomanager"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Printf("db open error: %v", err)
		return
	}
	defer db.Close()

	m := repomanager.NewPostgresRepositoryManager(logger, cfg.ReauthTokenRotations)
	if err := m.RunMigrations(ctx, db); err != nil {
		log.Printf("migration error: %v", err)
		return
	}

	logger.Info(ctx, "migrations applied")
}
