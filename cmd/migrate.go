package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Ananth-NQI/orderbot-backend/database"
	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// MigrateCommand creates the PostgreSQL tables and loads seed data
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations and upsert seed data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "seed",
				Usage: "Seed `FILE` to upsert, overrides seed.file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.PostgresDSN())
			if err != nil {
				return err
			}
			if err := database.AutoMigrate(db); err != nil {
				return err
			}

			path := cfg.Seed.File
			if s := c.String("seed"); s != "" {
				path = s
			}
			if path == "" {
				return nil
			}

			seed, err := storage.LoadSeed(path)
			if err != nil {
				return err
			}
			if err := database.Upsert(db, seed.Tenants, seed.Branches, seed.Categories, seed.Items); err != nil {
				return fmt.Errorf("seed upsert failed: %w", err)
			}
			logger.Info().
				Str("file", path).
				Int("tenants", len(seed.Tenants)).
				Int("branches", len(seed.Branches)).
				Int("categories", len(seed.Categories)).
				Int("items", len(seed.Items)).
				Msg("✅ Seed data upserted")
			return nil
		},
	}
}
