// Command migrate applies or rolls back the standard-profile Postgres
// schema using goose. The lite profile's SQLite schema is initialized
// in-process by internal/storage/sqlite and needs no separate tool.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/romanbabin/convogate/internal/config"
)

var (
	configPath string
	migrateDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the standard-profile Postgres schema",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config YAML")
	rootCmd.PersistentFlags().StringVar(&migrateDir, "dir", "migrations", "migrations directory")

	rootCmd.AddCommand(
		goosePassthroughCommand("up", "Apply all pending migrations"),
		goosePassthroughCommand("up-by-one", "Apply the next pending migration"),
		goosePassthroughCommand("down", "Roll back the most recently applied migration"),
		goosePassthroughCommand("redo", "Roll back then reapply the most recently applied migration"),
		goosePassthroughCommand("reset", "Roll back every applied migration"),
		goosePassthroughCommand("status", "Show which migrations have been applied"),
		goosePassthroughCommand("version", "Show the current schema version"),
		createCommand(),
	)
}

// goosePassthroughCommand wraps a goose command name that needs no arguments
// of its own beyond --config/--dir.
func goosePassthroughCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoose(name, args)
		},
	}
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new empty migration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoose("create", args)
		},
	}
}

func runGoose(command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dsn := cfg.Database.URL
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.RunContext(context.Background(), command, db, migrateDir, args...); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}
