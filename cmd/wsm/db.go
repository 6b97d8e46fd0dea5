package main

import (
	"fmt"

	"github.com/FireKid846/whatsapp-web/internal/config"
	"github.com/FireKid846/whatsapp-web/internal/db"
	"github.com/FireKid846/whatsapp-web/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const configFlagHelp = "path to wsm config file (WSM_* environment variables override it)"

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Record store management commands",
	}
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session tables",
		Long:  "Creates the sessions and session_logs tables in the configured record store, or adds missing columns to them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", configFlagHelp)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	fmt.Fprintf(out, "Connected to %s store\n", cfg.Store.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

// connectFromConfig loads configuration and opens the record store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadWithEnv(configPath, config.NewEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// openStore loads configuration and returns a migrated store.
func openStore(configPath string) (*config.Config, *store.GormStore, func(), error) {
	cfg, err := config.LoadWithEnv(configPath, config.NewEnv())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, done, err := newStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, done, nil
}

// newStore connects to the configured record store and migrates it.
func newStore(cfg *config.Config) (*store.GormStore, func(), error) {
	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB(gormDB)
		return nil, nil, err
	}
	st, err := store.New(gormDB)
	if err != nil {
		closeDB(gormDB)
		return nil, nil, err
	}
	return st, func() { closeDB(gormDB) }, nil
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}
