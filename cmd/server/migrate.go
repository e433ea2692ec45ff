package main

import (
	"github.com/spf13/cobra"

	"live-collab-sync/internal/config"
	"live-collab-sync/internal/db"
	"live-collab-sync/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply, roll back or inspect the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.New(cfg.Environment, cfg.LogLevel)

		conn, err := db.Connect(cmd.Context(), cfg.DBUrl)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(cmd.Context(), conn, args[0]); err != nil {
			return err
		}
		log.Info().Str("command", args[0]).Msg("migrate finished")
		return nil
	},
}
